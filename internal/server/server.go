package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"swapline/internal/auth"
	"swapline/internal/docstore"
	"swapline/internal/engine"
	"swapline/internal/runner"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"unknown_trigger"`
	Message string         `json:"message" example:"unknown trigger: \"monthly\""`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"trigger\":\"monthly\"}"`
}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the swapline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine.Store == nil {
		return nil, errors.New("server: engine store is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.logger()))
	hcfg := huma.DefaultConfig("Swapline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTriggers(group, cfg.Engine, cfg.logger())
	registerTrades(group, cfg.Engine.Store)
	registerChallenges(group, cfg.Engine.Store)
	registerNotifications(group, cfg.Engine.Store)
	registerEvents(group, cfg.Engine.Store)
	registerOpenAPI(router, api, basePath)

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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	if errors.Is(err, runner.ErrUnknownTrigger) {
		return newAPIError(http.StatusNotFound, "unknown_trigger", err.Error(), nil)
	}
	if errors.Is(err, docstore.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, docstore.ErrInvalidQuery) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", basePath, "openapi.json")
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Swapline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;.
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

func registerTriggers(api huma.API, e engine.Engine, logger *slog.Logger) {
	// One trigger at a time per process; cross-process overlap is tolerated.
	var mu sync.Mutex
	huma.Register(api, huma.Operation{
		OperationID: "run-trigger",
		Method:      http.MethodPost,
		Path:        "/triggers/{trigger}",
		Summary:     "Run a scheduled trigger now",
		Description: "hourly applies age-cutoff transitions, daily runs trade escalation, weekly generates challenges from templates.",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Trigger string `path:"trigger"`
	}) (*TriggerOutput, error) {
		if err := requirePermission(ctx, auth.PermRunTriggers); err != nil {
			return nil, handleError(err)
		}
		mu.Lock()
		defer mu.Unlock()
		sum, err := runner.Dispatch(ctx, e, input.Trigger)
		if errors.Is(err, runner.ErrUnknownTrigger) {
			return nil, newAPIError(http.StatusNotFound, "unknown_trigger", err.Error(), map[string]any{"trigger": input.Trigger})
		}
		if err != nil {
			logger.Error("trigger failed", "trigger", input.Trigger, "err", err)
			return nil, newAPIError(http.StatusInternalServerError, "trigger_failed", err.Error(), map[string]any{
				"trigger": input.Trigger,
				"summary": sum,
			})
		}
		return &TriggerOutput{Body: sum}, nil
	})
}

func registerTrades(api huma.API, store engine.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "list-trades",
		Method:      http.MethodGet,
		Path:        "/trades",
		Summary:     "List trades",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *listInput) (*TradeListOutput, error) {
		if err := requirePermission(ctx, auth.PermReadMarketplace); err != nil {
			return nil, handleError(err)
		}
		items, err := listCollection[tradeItem](ctx, store, tradesCollection, input)
		if err != nil {
			return nil, handleError(err)
		}
		return &TradeListOutput{Body: TradeList{Items: items}}, nil
	})
	huma.Register(api, huma.Operation{
		OperationID: "get-trade",
		Method:      http.MethodGet,
		Path:        "/trades/{id}",
		Summary:     "Get a trade",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*TradeOutput, error) {
		if err := requirePermission(ctx, auth.PermReadMarketplace); err != nil {
			return nil, handleError(err)
		}
		doc, err := store.Get(ctx, tradesCollection, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		var t tradeItem
		if err := doc.Decode(&t); err != nil {
			return nil, handleError(err)
		}
		return &TradeOutput{Body: t}, nil
	})
}

func registerChallenges(api huma.API, store engine.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "list-challenges",
		Method:      http.MethodGet,
		Path:        "/challenges",
		Summary:     "List challenges",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *listInput) (*ChallengeListOutput, error) {
		if err := requirePermission(ctx, auth.PermReadMarketplace); err != nil {
			return nil, handleError(err)
		}
		items, err := listCollection[challengeItem](ctx, store, challengesCollection, input)
		if err != nil {
			return nil, handleError(err)
		}
		return &ChallengeListOutput{Body: ChallengeList{Items: items}}, nil
	})
}

func registerNotifications(api huma.API, store engine.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List a user's notifications, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id" required:"true"`
		Limit  int    `query:"limit" default:"50"`
	}) (*NotificationListOutput, error) {
		if err := requirePermission(ctx, auth.PermReadMarketplace); err != nil {
			return nil, handleError(err)
		}
		if strings.TrimSpace(input.UserID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		docs, err := store.Query(ctx, docstore.Collection(notificationsCollection).
			Where("userId", docstore.Eq, input.UserID).
			Order("createdAt", true).
			Take(normalizeLimit(input.Limit)))
		if err != nil {
			return nil, handleError(err)
		}
		items, err := docstore.DecodeAll[notificationItem](docs)
		if err != nil {
			return nil, handleError(err)
		}
		return &NotificationListOutput{Body: NotificationList{Items: items}}, nil
	})
}

func registerEvents(api huma.API, store engine.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*EventListOutput, error) {
		if err := requirePermission(ctx, auth.PermReadMarketplace); err != nil {
			return nil, handleError(err)
		}
		items, err := recentEvents(ctx, store, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &EventListOutput{Body: EventList{Items: items}}, nil
	})
}

type listInput struct {
	Status string `query:"status"`
	Limit  int    `query:"limit" default:"50"`
}

func listCollection[T any](ctx context.Context, store engine.Store, collection string, input *listInput) ([]T, error) {
	q := docstore.Collection(collection).Take(normalizeLimit(input.Limit))
	if s := strings.TrimSpace(input.Status); s != "" {
		q = q.Where("status", docstore.Eq, s)
	}
	docs, err := store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return docstore.DecodeAll[T](docs)
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
