package adapter

import "log/slog"

// RegisterBuiltins registers every built-in source adapter on the registry.
// The financial-report adapter is registered separately by the service since
// it takes the model collaborator as a dependency.
func RegisterBuiltins(r *Registry, logger *slog.Logger) {
	r.Register(NewEIA(logger))
	r.Register(NewFRED(logger))
	r.Register(NewBLS(logger))
	r.Register(NewTreasury(logger))
	r.Register(NewCensus(logger))
	r.Register(NewBEA(logger))
	r.Register(NewBTS(logger))
	r.Register(NewUSDA(logger))
	r.Register(NewCFTC(logger))
	r.Register(NewCMS(logger))
	r.Register(NewDUNL(logger))
	r.Register(NewEdgar13F(logger))
	r.Register(NewFormADV(logger))
	r.Register(NewProPublica(logger))
	r.Register(NewRSS(logger))
	r.Register(NewPrediction(logger))
	r.Register(NewGreenhouse(logger))
}
