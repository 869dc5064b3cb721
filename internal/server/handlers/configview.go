package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Raiccio/demographics-backend/internal/config"
	derrors "github.com/Raiccio/demographics-backend/internal/foundation/errors"
	"github.com/Raiccio/demographics-backend/internal/server/responses"
)

// ConfigHandlers exposes a sanitized view of the running configuration.
type ConfigHandlers struct {
	cfg          func() *config.Config
	errorAdapter *derrors.HTTPErrorAdapter
}

// NewConfigHandlers creates a config handlers instance. cfg is a getter so
// the view tracks live configuration reloads.
func NewConfigHandlers(cfg func() *config.Config) *ConfigHandlers {
	return &ConfigHandlers{
		cfg:          cfg,
		errorAdapter: derrors.NewHTTPErrorAdapter(slog.Default()),
	}
}

// HandleConfig handles GET /api/config.
func (h *ConfigHandlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		err := derrors.ValidationError("invalid HTTP method").
			WithContext("method", r.Method).
			WithContext("allowed_method", "GET").
			Build()
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	cfg := h.cfg()
	resp := &responses.ConfigResponse{
		Status: "ok",
		Config: responses.ConfigSummary{
			Source: responses.SourceSummary{
				URL:            cfg.Source.URL,
				TimeoutSeconds: cfg.Source.TimeoutSeconds,
				PageSize:       cfg.Source.PageSize,
			},
			Scheduler: responses.SchedulerSummary{
				Enabled:                cfg.Scheduler.IsEnabled(),
				FetchIntervalSeconds:   int(cfg.Scheduler.FetchInterval().Seconds()),
				ProcessIntervalSeconds: int(cfg.Scheduler.ProcessInterval().Seconds()),
			},
			Data: responses.DataSummary{
				Dir:        cfg.Data.Dir,
				ArchiveDir: cfg.Data.ArchiveDir,
				ErrorDir:   cfg.Data.ErrorDir,
			},
			HTTP: responses.HTTPSummary{
				APIPort:   cfg.HTTP.APIPort,
				AdminPort: cfg.HTTP.AdminPort,
			},
		},
		Timestamp: time.Now().UTC(),
	}
	if werr := writeJSONPretty(w, r, http.StatusOK, resp); werr != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			derrors.WrapError(werr, derrors.CategoryInternal, "failed to write config response").Build())
	}
}
