// Package server exposes the runtime over HTTP: playbook execution,
// resource and capability management, the event journal, and API keys.
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
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"playline/internal/app"
	"playline/internal/capability"
	"playline/internal/domain"
	"playline/internal/execution"
	"playline/internal/repo"
	"playline/internal/runtime"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
	Auth     AuthConfig
	Logger   zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"reservation abc: not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Playline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.App == nil {
		return nil, errors.New("server: App is required")
	}
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
			// Schema/request validation errors surface as 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newRequestLogger(cfg.Logger))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyData, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyData))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyData)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.App.Repo))
	hcfg := huma.DefaultConfig("Playline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerPlaybooks(group, cfg.App)
	registerExecutions(group, cfg.App)
	registerRuntime(group, cfg.App)
	registerResources(group, cfg.App)
	registerReservations(group, cfg.App)
	registerCapabilities(group, cfg.App)
	registerEvents(group, cfg.App)
	registerAPIKeys(group, cfg.App)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.App, cfg.Logger)

	return router, nil
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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "not found"):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case strings.Contains(lowered, "disabled by policy"):
		return newAPIError(http.StatusForbidden, "forbidden", msg, nil)
	case strings.Contains(lowered, "expired"),
		strings.Contains(lowered, "no in-flight"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
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
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func newRequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
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
			applyAuthSecurity(oas, basePath)
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

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
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
    <title>Playline API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
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

func registerPlaybooks(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-playbooks",
		Method:      http.MethodGet,
		Path:        "/playbooks",
		Summary:     "List playbooks in the library",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PlaybookListResponse `json:"body"`
	}, error) {
		names, err := a.Library.ListPlaybooks()
		if err != nil {
			return nil, handleError(err)
		}
		if names == nil {
			names = []string{}
		}
		return &struct {
			Body PlaybookListResponse `json:"body"`
		}{Body: PlaybookListResponse{Items: names}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-playbook",
		Method:      http.MethodPost,
		Path:        "/playbooks/{name}/run",
		Summary:     "Run a playbook",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Name   string             `path:"name"`
		Detach bool               `query:"detach"`
		Body   RunPlaybookRequest `json:"body"`
	}) (*struct {
		Body domain.PlaybookExecution `json:"body"`
	}, error) {
		if input.Detach {
			// The execution must outlive the request.
			exec, err := a.Runtime.StartPlaybook(context.Background(), input.Name, input.Body.Inputs)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.PlaybookExecution `json:"body"`
			}{Body: exec}, nil
		}
		exec, err := a.Runtime.ExecutePlaybook(ctx, input.Name, input.Body.Inputs)
		if err != nil && exec.ID == "" {
			return nil, handleError(err)
		}
		// A failed run still returns its record; callers inspect status.
		return &struct {
			Body domain.PlaybookExecution `json:"body"`
		}{Body: exec}, nil
	})
}

func registerExecutions(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-executions",
		Method:      http.MethodGet,
		Path:        "/executions",
		Summary:     "List active executions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ExecutionListResponse `json:"body"`
	}, error) {
		return &struct {
			Body ExecutionListResponse `json:"body"`
		}{Body: ExecutionListResponse{Items: a.Runtime.ListActiveExecutions()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-execution",
		Method:      http.MethodGet,
		Path:        "/executions/{id}",
		Summary:     "Get execution status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.PlaybookExecution `json:"body"`
	}, error) {
		exec, ok := a.Runtime.ExecutionStatus(input.ID)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("execution %s not found", input.ID), nil)
		}
		return &struct {
			Body domain.PlaybookExecution `json:"body"`
		}{Body: exec}, nil
	})

	type executionTransition struct {
		op      string
		summary string
		apply   func(string) bool
		status  string
	}
	transitions := []executionTransition{
		{op: "pause", summary: "Pause execution", apply: a.Runtime.PauseExecution, status: "running"},
		{op: "resume", summary: "Resume execution", apply: a.Runtime.ResumeExecution, status: "paused"},
		{op: "cancel", summary: "Cancel execution", apply: a.Runtime.CancelExecution, status: "non-terminal"},
	}
	for _, tr := range transitions {
		tr := tr
		huma.Register(api, huma.Operation{
			OperationID: tr.op + "-execution",
			Method:      http.MethodPost,
			Path:        "/executions/{id}/" + tr.op,
			Summary:     tr.summary,
			Errors: []int{
				http.StatusNotFound,
				http.StatusConflict,
			},
		}, func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*struct {
			Body domain.PlaybookExecution `json:"body"`
		}, error) {
			if !tr.apply(input.ID) {
				if _, ok := a.Runtime.ExecutionStatus(input.ID); !ok {
					return nil, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("execution %s not found", input.ID), nil)
				}
				return nil, newAPIError(http.StatusConflict, "conflict", fmt.Sprintf("execution %s is not %s", input.ID, tr.status), nil)
			}
			exec, _ := a.Runtime.ExecutionStatus(input.ID)
			return &struct {
				Body domain.PlaybookExecution `json:"body"`
			}{Body: exec}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "request-human-override",
		Method:      http.MethodPost,
		Path:        "/executions/override",
		Summary:     "Request human override for an in-flight step",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body HumanOverrideRequest `json:"body"`
	}) (*struct{}, error) {
		if strings.TrimSpace(input.Body.StepID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "step_id is required", nil)
		}
		userID := input.Body.UserID
		if userID == "" {
			userID = actorIDFromContext(ctx)
		}
		if err := a.Executor.RequestHumanOverride(input.Body.StepID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerRuntime(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "runtime-stats",
		Method:      http.MethodGet,
		Path:        "/runtime/stats",
		Summary:     "Runtime statistics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body runtime.Stats `json:"body"`
	}, error) {
		return &struct {
			Body runtime.Stats `json:"body"`
		}{Body: a.Runtime.RuntimeStats()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-execution-policy",
		Method:      http.MethodGet,
		Path:        "/runtime/policy",
		Summary:     "Current execution policy",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body execution.Policy `json:"body"`
	}, error) {
		return &struct {
			Body execution.Policy `json:"body"`
		}{Body: a.Executor.Policy()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-execution-policy",
		Method:      http.MethodPatch,
		Path:        "/runtime/policy",
		Summary:     "Update execution policy",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body UpdatePolicyRequest `json:"body"`
	}) (*struct {
		Body execution.Policy `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		patch := execution.PolicyPatch{
			DefaultChain:       toTypes(input.Body.DefaultChain),
			AllowHumanOverride: input.Body.AllowHumanOverride,
			MaxRetries:         input.Body.MaxRetries,
			AvailableTypes:     toTypes(input.Body.AvailableTypes),
		}
		if input.Body.ExecutionTimeoutSeconds != nil {
			d := time.Duration(*input.Body.ExecutionTimeoutSeconds) * time.Second
			patch.ExecutionTimeout = &d
		}
		policy := a.Executor.UpdatePolicy(patch)
		return &struct {
			Body execution.Policy `json:"body"`
		}{Body: policy}, nil
	})
}

func registerResources(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-resource-definition",
		Method:        http.MethodPost,
		Path:          "/resources/definitions",
		Summary:       "Register resource definition",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body domain.ResourceDefinition `json:"body"`
	}) (*struct {
		Body domain.ResourceDefinition `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		a.Runtime.Resources.RegisterDefinition(input.Body)
		return &struct {
			Body domain.ResourceDefinition `json:"body"`
		}{Body: input.Body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-resource-definitions",
		Method:      http.MethodGet,
		Path:        "/resources/definitions",
		Summary:     "List resource definitions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body DefinitionListResponse `json:"body"`
	}, error) {
		return &struct {
			Body DefinitionListResponse `json:"body"`
		}{Body: DefinitionListResponse{Items: a.Runtime.Resources.ListDefinitions()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-resource-instance",
		Method:        http.MethodPost,
		Path:          "/resources/instances",
		Summary:       "Register resource instance",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body RegisterInstanceRequest `json:"body"`
	}) (*struct {
		Body domain.ResourceInstance `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		a.Runtime.Resources.RegisterInstance(input.Body.Name, input.Body.Payload)
		inst, _ := a.Runtime.Resources.Instance(input.Body.Name)
		return &struct {
			Body domain.ResourceInstance `json:"body"`
		}{Body: inst}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-resource-instance",
		Method:      http.MethodGet,
		Path:        "/resources/instances/{name}",
		Summary:     "Get resource instance",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*struct {
		Body domain.ResourceInstance `json:"body"`
	}, error) {
		inst, ok := a.Runtime.Resources.Instance(input.Name)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("instance %s not found", input.Name), nil)
		}
		return &struct {
			Body domain.ResourceInstance `json:"body"`
		}{Body: inst}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-resources",
		Method:      http.MethodPost,
		Path:        "/resources/search",
		Summary:     "Search resource definitions by characteristics",
	}, func(ctx context.Context, input *struct {
		Body ResourceSearchRequest `json:"body"`
	}) (*struct {
		Body []MatchResponse `json:"body"`
	}, error) {
		matches := a.Runtime.Resources.FindMatching(input.Body.Characteristics)
		res := make([]MatchResponse, 0, len(matches))
		for _, m := range matches {
			res = append(res, MatchResponse{Definition: m.Definition, Score: m.Score})
		}
		return &struct {
			Body []MatchResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resource-stats",
		Method:      http.MethodGet,
		Path:        "/resources/stats",
		Summary:     "Resource utilization",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.UtilizationStats `json:"body"`
	}, error) {
		return &struct {
			Body domain.UtilizationStats `json:"body"`
		}{Body: a.Runtime.Resources.UtilizationStats()}, nil
	})
}

func registerReservations(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-reservation",
		Method:        http.MethodPost,
		Path:          "/reservations",
		Summary:       "Reserve resources for later allocation",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateReservationRequest `json:"body"`
	}) (*struct {
		Body domain.Reservation `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.StepID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "step_id is required", nil)
		}
		if len(input.Body.Requirements) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "requirements are required", nil)
		}
		expiration := time.Duration(input.Body.ExpirationMinutes) * time.Minute
		res := a.Runtime.Resources.Reserve(input.Body.StepID, input.Body.Requirements, expiration)
		return &struct {
			Body domain.Reservation `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reservations",
		Method:      http.MethodGet,
		Path:        "/reservations",
		Summary:     "List reservations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ReservationListResponse `json:"body"`
	}, error) {
		return &struct {
			Body ReservationListResponse `json:"body"`
		}{Body: ReservationListResponse{Items: a.Runtime.Resources.ListReservations()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-reservation",
		Method:      http.MethodGet,
		Path:        "/reservations/{id}",
		Summary:     "Get reservation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Reservation `json:"body"`
	}, error) {
		res, ok := a.Runtime.Resources.Reservation(input.ID)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("reservation %s not found", input.ID), nil)
		}
		return &struct {
			Body domain.Reservation `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-reservation",
		Method:      http.MethodPost,
		Path:        "/reservations/{id}/confirm",
		Summary:     "Confirm reservation",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.AllocationResult `json:"body"`
	}, error) {
		result, err := a.Runtime.Resources.ConfirmReservation(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AllocationResult `json:"body"`
		}{Body: result}, nil
	})
}

func registerCapabilities(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-capability",
		Method:        http.MethodPost,
		Path:          "/capabilities",
		Summary:       "Register capability",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body domain.CapabilityDefinition `json:"body"`
	}) (*struct {
		Body domain.CapabilityDefinition `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		a.Runtime.Capabilities.RegisterCapability(input.Body)
		return &struct {
			Body domain.CapabilityDefinition `json:"body"`
		}{Body: input.Body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-responsibility",
		Method:        http.MethodPost,
		Path:          "/capabilities/responsibilities",
		Summary:       "Register responsibility",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body domain.ResponsibilityDefinition `json:"body"`
	}) (*struct {
		Body domain.ResponsibilityDefinition `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		a.Runtime.Capabilities.RegisterResponsibility(input.Body)
		return &struct {
			Body domain.ResponsibilityDefinition `json:"body"`
		}{Body: input.Body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-provider",
		Method:        http.MethodPost,
		Path:          "/capabilities/providers",
		Summary:       "Register capability provider",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body domain.CapabilityProvider `json:"body"`
	}) (*struct {
		Body domain.CapabilityProvider `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.ID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		a.Runtime.Capabilities.RegisterProvider(input.Body)
		return &struct {
			Body domain.CapabilityProvider `json:"body"`
		}{Body: input.Body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-capabilities",
		Method:      http.MethodPost,
		Path:        "/capabilities/resolve",
		Summary:     "Resolve required capabilities to providers",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body capability.ResolveContext `json:"body"`
	}) (*struct {
		Body domain.ResolutionResult `json:"body"`
	}, error) {
		if len(input.Body.Required) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "required is required", nil)
		}
		return &struct {
			Body domain.ResolutionResult `json:"body"`
		}{Body: a.Runtime.Resolver.Resolve(input.Body)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-compatibility",
		Method:      http.MethodPost,
		Path:        "/capabilities/validate",
		Summary:     "Validate capability interface compatibility",
	}, func(ctx context.Context, input *struct {
		Body ValidateCompatibilityRequest `json:"body"`
	}) (*struct {
		Body domain.CompatibilityResult `json:"body"`
	}, error) {
		return &struct {
			Body domain.CompatibilityResult `json:"body"`
		}{Body: capability.ValidateCompatibility(input.Body.Required, input.Body.Provided)}, nil
	})

	caps := a.Config.Runtime.Capabilities
	if caps.EnableMarketplace != nil && !*caps.EnableMarketplace {
		return
	}

	huma.Register(api, huma.Operation{
		OperationID: "search-capabilities",
		Method:      http.MethodGet,
		Path:        "/capabilities/search",
		Summary:     "Search capabilities and responsibilities",
	}, func(ctx context.Context, input *struct {
		Term     string `query:"term"`
		Provider string `query:"provider"`
		Kind     string `query:"kind"`
		Tag      string `query:"tag"`
	}) (*struct {
		Body []capability.SearchResult `json:"body"`
	}, error) {
		filters := capability.SearchFilters{
			Provider: input.Provider,
			Kind:     input.Kind,
		}
		if input.Tag != "" {
			filters.Tags = []string{input.Tag}
		}
		results := a.Runtime.Capabilities.Find(input.Term, filters)
		if results == nil {
			results = []capability.SearchResult{}
		}
		return &struct {
			Body []capability.SearchResult `json:"body"`
		}{Body: results}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "marketplace-info",
		Method:      http.MethodGet,
		Path:        "/capabilities/marketplace",
		Summary:     "Marketplace aggregates",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.MarketplaceInfo `json:"body"`
	}, error) {
		return &struct {
			Body domain.MarketplaceInfo `json:"body"`
		}{Body: a.Runtime.Capabilities.MarketplaceInfo()}, nil
	})
}

func registerEvents(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the event journal",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type  string `query:"type"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		items, err := a.Repo.TailEvents(ctx, normalizeLimit(input.Limit), input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Items: mapEvents(items)}}, nil
	})
}

func registerAPIKeys(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.ActorID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		raw := "pl_" + uuid.NewString()
		key := domain.APIKey{
			ID:        uuid.NewString(),
			ActorID:   input.Body.ActorID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(raw),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := a.Repo.InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{APIKeyResponse: apiKeyResponse(key), Key: raw}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body APIKeyListResponse `json:"body"`
	}, error) {
		keys, err := a.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyListResponse `json:"body"`
		}{Body: APIKeyListResponse{Items: mapAPIKeys(keys)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := a.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Roles)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
