package adapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const greenhouseBaseURL = "https://boards-api.greenhouse.io/v1/boards"

// Greenhouse ingests open job postings from Greenhouse job boards: one JSON
// fetch per board token, one row per posting. Posting counts per board are
// small, so the board list in the config is the whole plan.
type Greenhouse struct {
	logger *slog.Logger
}

var _ Adapter = (*Greenhouse)(nil)

// NewGreenhouse creates the Greenhouse job postings adapter.
func NewGreenhouse(logger *slog.Logger) *Greenhouse {
	if logger == nil {
		logger = slog.Default()
	}

	return &Greenhouse{logger: logger}
}

// Name implements Adapter.
func (a *Greenhouse) Name() string { return "greenhouse_jobs" }

// Defaults implements Adapter.
func (a *Greenhouse) Defaults() FetchDefaults {
	return FetchDefaults{
		MaxConcurrency: 3,
		MaxRetries:     3,
		RateInterval:   500 * time.Millisecond,
		Timeout:        30 * time.Second,
	}
}

// Schema implements Adapter.
func (a *Greenhouse) Schema(cfg Config) (*Spec, error) {
	if _, err := splitFields(cfg, "boards"); err != nil {
		return nil, err
	}

	return &Spec{
		Source:      a.Name(),
		DatasetID:   "job_postings",
		TableName:   "greenhouse_job_postings",
		DisplayName: "Greenhouse Job Postings",
		Description: "Open job postings across tracked Greenhouse boards",
		Columns: []Column{
			{Name: "board", Type: TypeText},
			{Name: "posting_id", Type: TypeBigInt},
			{Name: "title", Type: TypeText, Nullable: true},
			{Name: "location", Type: TypeText, Nullable: true},
			{Name: "department", Type: TypeText, Nullable: true},
			{Name: "absolute_url", Type: TypeText, Nullable: true},
			{Name: "updated_at", Type: TypeTimestamp, Nullable: true},
		},
		UniqueKey: []string{"board", "posting_id"},
		Indexes:   [][]string{{"board"}, {"updated_at"}},
	}, nil
}

// Plan implements Adapter: one step per board token.
func (a *Greenhouse) Plan(cfg Config) (Planner, error) {
	boards, err := splitFields(cfg, "boards")
	if err != nil {
		return nil, err
	}

	base := cfg.Get("base_url", greenhouseBaseURL)

	list := make([]Step, 0, len(boards))

	for i, board := range boards {
		list = append(list, Step{
			URL:    base + "/" + board + "/jobs",
			Method: http.MethodGet,
			Page:   i + 1,
		})
	}

	return Steps(list...), nil
}

type greenhouseEnvelope struct {
	Jobs []struct {
		ID          int64  `json:"id"`
		Title       string `json:"title"`
		AbsoluteURL string `json:"absolute_url"`
		UpdatedAt   string `json:"updated_at"`
		Location    struct {
			Name string `json:"name"`
		} `json:"location"`
		Departments []struct {
			Name string `json:"name"`
		} `json:"departments"`
	} `json:"jobs"`
}

// Parse implements Adapter. The board token comes back out of the step URL
// so rows stay keyed without planner-side state.
func (a *Greenhouse) Parse(step *Step, payload []byte) ([]Row, error) {
	var envelope greenhouseEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: greenhouse response: %w", ErrUnparseablePayload, err)
	}

	board := boardFromURL(step.URL)

	rows := make([]Row, 0, len(envelope.Jobs))

	for _, posting := range envelope.Jobs {
		if posting.ID == 0 {
			a.logger.Warn("skipping posting without id",
				slog.String("board", board),
				slog.Int("page", step.Page),
			)

			continue
		}

		department := Null()
		if len(posting.Departments) > 0 {
			department = CoerceText(posting.Departments[0].Name)
		}

		rows = append(rows, Row{
			"board":        Text(board),
			"posting_id":   Int(posting.ID),
			"title":        CoerceText(posting.Title),
			"location":     CoerceText(posting.Location.Name),
			"department":   department,
			"absolute_url": CoerceText(posting.AbsoluteURL),
			"updated_at":   CoerceDate(posting.UpdatedAt, time.RFC3339, "2006-01-02T15:04:05-07:00"),
		})
	}

	return rows, nil
}

// boardFromURL extracts the board token from .../boards/<token>/jobs.
func boardFromURL(rawURL string) string {
	parts := strings.Split(strings.TrimSuffix(rawURL, "/"), "/")
	if len(parts) < 2 {
		return ""
	}

	return parts[len(parts)-2]
}
