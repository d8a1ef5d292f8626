package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"checkline/internal/domain"
	"checkline/internal/engine"
	"checkline/internal/recurrence"
	"checkline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid instance transition completed -> in_progress"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Checkline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	hcfg := huma.DefaultConfig("Checkline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerTemplates(group, cfg.Engine)
	registerSchedules(group, cfg.Engine)
	registerGenerate(group, cfg.Engine)
	registerInstances(group, cfg.Engine)
	registerReminders(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ire recurrence.InvalidRuleError
	if errors.As(err, &ire) {
		return newAPIError(http.StatusBadRequest, "invalid_rule", err.Error(), map[string]any{
			"kind":     string(ire.Kind),
			"interval": ire.Interval,
		})
	}
	var ite engine.InvalidTransitionError
	if errors.As(err, &ite) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"from": string(ite.From),
			"to":   string(ite.To),
		})
	}
	var incomplete engine.IncompleteRequiredItemsError
	if errors.As(err, &incomplete) {
		return newAPIError(http.StatusUnprocessableEntity, "incomplete_required_items", err.Error(), map[string]any{
			"missing": incomplete.Missing,
		})
	}
	var tme engine.TemplateMissingError
	if errors.As(err, &tme) {
		return newAPIError(http.StatusConflict, "template_missing", err.Error(), map[string]any{
			"template_id": tme.TemplateID,
			"schedule_id": tme.ScheduleID,
		})
	}
	if errors.Is(err, engine.ErrConcurrentGeneration) {
		return newAPIError(http.StatusConflict, "concurrent_generation", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "out of range"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// actorOr defaults the actor recorded in the event journal when the caller
// sends no X-Actor-Id header.
func actorOr(actor string) string {
	if actor == "" {
		return "api"
	}
	return actor
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Checkline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Engine status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.EngineStatus `json:"body"`
	}, error) {
		st, err := e.Status(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.EngineStatus `json:"body"`
		}{Body: st}, nil
	})
}

func registerTemplates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-template",
		Method:        http.MethodPost,
		Path:          "/templates",
		Summary:       "Create template",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ActorID string                `header:"X-Actor-Id"`
		Body    CreateTemplateRequest `json:"body"`
	}) (*struct {
		Body domain.Template `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		t, err := e.CreateTemplate(ctx, input.Body.Name, input.Body.Mandatory, input.Body.FrequencyDays, itemSpecs(input.Body.Items), actorOr(input.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Template `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List templates",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Template `json:"body"`
	}, error) {
		items, err := e.Repo.ListTemplates(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Template `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/templates/{id}",
		Summary:     "Get template",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Template `json:"body"`
	}, error) {
		t, err := e.Repo.GetTemplate(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Template `json:"body"`
		}{Body: t}, nil
	})
}

func registerSchedules(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-schedule",
		Method:        http.MethodPost,
		Path:          "/schedules",
		Summary:       "Create schedule",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ActorID string                `header:"X-Actor-Id"`
		Body    CreateScheduleRequest `json:"body"`
	}) (*struct {
		Body domain.Schedule `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		firstDue, err := parseOptionalTime(input.Body.FirstDueAt)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid first_due_at", map[string]any{"error": err.Error()})
		}
		s, err := e.CreateSchedule(ctx, engine.ScheduleCreateOptions{
			TemplateID:   input.Body.TemplateID,
			Rule:         domain.RecurrenceRule{Kind: domain.RuleKind(input.Body.Rule.Kind), Interval: input.Body.Rule.Interval},
			LeadTimeDays: input.Body.LeadTimeDays,
			ReminderDays: input.Body.ReminderDays,
			Assignee:     input.Body.Assignee,
			Department:   input.Body.Department,
			FirstDueAt:   firstDue,
			ActorID:      actorOr(input.ActorID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Schedule `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-schedules",
		Method:      http.MethodGet,
		Path:        "/schedules",
		Summary:     "List schedules",
	}, func(ctx context.Context, input *struct {
		TemplateID string `query:"template_id"`
		Active     string `query:"active" enum:",true,false"`
		Degraded   string `query:"degraded" enum:",true,false"`
	}) (*struct {
		Body []domain.Schedule `json:"body"`
	}, error) {
		f := repo.ScheduleFilters{TemplateID: input.TemplateID}
		if input.Active != "" {
			v := input.Active == "true"
			f.Active = &v
		}
		if input.Degraded != "" {
			v := input.Degraded == "true"
			f.Degraded = &v
		}
		items, err := e.ListSchedules(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Schedule `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-schedule",
		Method:      http.MethodGet,
		Path:        "/schedules/{id}",
		Summary:     "Get schedule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Schedule `json:"body"`
	}, error) {
		s, err := e.GetSchedule(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Schedule `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconfigure-schedule",
		Method:      http.MethodPatch,
		Path:        "/schedules/{id}",
		Summary:     "Reconfigure schedule",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID      string                     `path:"id"`
		ActorID string                     `header:"X-Actor-Id"`
		Body    ReconfigureScheduleRequest `json:"body"`
	}) (*struct {
		Body domain.Schedule `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		opts := engine.ScheduleReconfigureOptions{
			ID:           input.ID,
			LeadTimeDays: input.Body.LeadTimeDays,
			ReminderDays: input.Body.ReminderDays,
			Assignee:     input.Body.Assignee,
			Department:   input.Body.Department,
			ActorID:      actorOr(input.ActorID),
		}
		if input.Body.Rule != nil {
			rule := domain.RecurrenceRule{Kind: domain.RuleKind(input.Body.Rule.Kind), Interval: input.Body.Rule.Interval}
			opts.Rule = &rule
		}
		s, err := e.ReconfigureSchedule(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Schedule `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivate-schedule",
		Method:      http.MethodPost,
		Path:        "/schedules/{id}/deactivate",
		Summary:     "Deactivate schedule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		ActorID string `header:"X-Actor-Id"`
	}) (*struct {
		Body domain.Schedule `json:"body"`
	}, error) {
		s, err := e.DeactivateSchedule(ctx, input.ID, actorOr(input.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Schedule `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activate-schedule",
		Method:      http.MethodPost,
		Path:        "/schedules/{id}/activate",
		Summary:     "Activate schedule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		ActorID string `header:"X-Actor-Id"`
	}) (*struct {
		Body domain.Schedule `json:"body"`
	}, error) {
		s, err := e.ActivateSchedule(ctx, input.ID, actorOr(input.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Schedule `json:"body"`
		}{Body: s}, nil
	})
}

func registerGenerate(api huma.API, e engine.Engine) {
	type generateResponse struct {
		Generated []domain.Instance `json:"generated"`
		Count     int               `json:"count"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "generate",
		Method:      http.MethodPost,
		Path:        "/generate",
		Summary:     "Generate due instances",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ActorID string          `header:"X-Actor-Id"`
		Body    GenerateRequest `json:"body"`
	}) (*struct {
		Body generateResponse `json:"body"`
	}, error) {
		now, err := parseOptionalTime(input.Body.Now)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid now", map[string]any{"error": err.Error()})
		}
		if now.IsZero() {
			now = e.Now()
		}
		generated, err := e.GenerateDue(ctx, now, actorOr(input.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		if generated == nil {
			generated = []domain.Instance{}
		}
		return &struct {
			Body generateResponse `json:"body"`
		}{Body: generateResponse{Generated: generated, Count: len(generated)}}, nil
	})
}

func registerInstances(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-instance",
		Method:        http.MethodPost,
		Path:          "/instances",
		Summary:       "Create ad-hoc instance",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ActorID string                `header:"X-Actor-Id"`
		Body    CreateInstanceRequest `json:"body"`
	}) (*struct {
		Body domain.Instance `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.TemplateID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "template_id is required", nil)
		}
		dueAt, err := parseOptionalTime(input.Body.DueAt)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid due_at", map[string]any{"error": err.Error()})
		}
		if dueAt.IsZero() {
			dueAt = e.Now()
		}
		inst, err := e.CreateAdhocInstance(ctx, input.Body.TemplateID, input.Body.Assignee, input.Body.Department, dueAt, actorOr(input.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Instance `json:"body"`
		}{Body: inst}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-instances",
		Method:      http.MethodGet,
		Path:        "/instances",
		Summary:     "List instances",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ScheduleID string `query:"schedule_id"`
		TemplateID string `query:"template_id"`
		Status     string `query:"status" enum:",pending,in_progress,completed,cancelled"`
		Assignee   string `query:"assignee"`
		Department string `query:"department"`
		Overdue    bool   `query:"overdue"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Instance `json:"body"`
	}, error) {
		f := repo.InstanceFilters{
			ScheduleID: input.ScheduleID,
			TemplateID: input.TemplateID,
			Status:     domain.InstanceStatus(input.Status),
			Assignee:   input.Assignee,
			Department: input.Department,
			Limit:      input.Limit,
		}
		if input.Overdue {
			f.Open = true
			f.DueBefore = e.Now().UTC().Format(time.RFC3339)
		}
		items, err := e.ListInstances(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Instance{}
		}
		return &struct {
			Body []domain.Instance `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-instance",
		Method:      http.MethodGet,
		Path:        "/instances/{id}",
		Summary:     "Get instance",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Instance `json:"body"`
	}, error) {
		inst, err := e.GetInstance(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Instance `json:"body"`
		}{Body: inst}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-instance",
		Method:      http.MethodPost,
		Path:        "/instances/{id}/start",
		Summary:     "Start instance",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		ActorID string `header:"X-Actor-Id"`
	}) (*struct {
		Body domain.Instance `json:"body"`
	}, error) {
		inst, err := e.StartInstance(ctx, input.ID, actorOr(input.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Instance `json:"body"`
		}{Body: inst}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-instance-item",
		Method:      http.MethodPost,
		Path:        "/instances/{id}/items/{item_id}/check",
		Summary:     "Check an instance item",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID      string           `path:"id"`
		ItemID  string           `path:"item_id"`
		ActorID string           `header:"X-Actor-Id"`
		Body    CheckItemRequest `json:"body"`
	}) (*struct {
		Body domain.Instance `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		opts := engine.CheckItemOptions{
			InstanceID: input.ID,
			ItemID:     input.ItemID,
			Checked:    input.Body.Checked,
			Compliant:  input.Body.Compliant,
			Score:      input.Body.Score,
			Findings:   input.Body.Findings,
			ActorID:    actorOr(input.ActorID),
		}
		if input.Body.CorrectiveDueAt != nil {
			due, err := parseOptionalTime(input.Body.CorrectiveDueAt)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid corrective_due_at", map[string]any{"error": err.Error()})
			}
			opts.CorrectiveDueAt = &due
		}
		inst, err := e.CheckItem(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Instance `json:"body"`
		}{Body: inst}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-instance",
		Method:      http.MethodPost,
		Path:        "/instances/{id}/complete",
		Summary:     "Complete instance",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		ActorID string `header:"X-Actor-Id"`
	}) (*struct {
		Body domain.Instance `json:"body"`
	}, error) {
		inst, err := e.CompleteInstance(ctx, input.ID, actorOr(input.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Instance `json:"body"`
		}{Body: inst}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-instance",
		Method:      http.MethodPost,
		Path:        "/instances/{id}/cancel",
		Summary:     "Cancel instance",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID      string                `path:"id"`
		ActorID string                `header:"X-Actor-Id"`
		Body    CancelInstanceRequest `json:"body"`
	}) (*struct {
		Body domain.Instance `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		inst, err := e.CancelInstance(ctx, input.ID, input.Body.Reason, actorOr(input.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Instance `json:"body"`
		}{Body: inst}, nil
	})
}

func registerReminders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "due-reminders",
		Method:      http.MethodGet,
		Path:        "/reminders",
		Summary:     "Open instances in their reminder window",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Now string `query:"now" format:"date-time"`
	}) (*struct {
		Body []domain.Instance `json:"body"`
	}, error) {
		now := e.Now()
		if input.Now != "" {
			parsed, err := time.Parse(time.RFC3339, input.Now)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid now", map[string]any{"error": err.Error()})
			}
			now = parsed
		}
		items, err := e.DueReminders(ctx, now)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Instance{}
		}
		return &struct {
			Body []domain.Instance `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
