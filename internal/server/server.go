package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"workorders/internal/domain"
	"workorders/internal/engine"
	"workorders/internal/engine/auth"
	"workorders/internal/files"
	"workorders/internal/realtime"
)

// Config for the HTTP API handler. Hub, Metrics and Files are optional mounts.
type Config struct {
	Engine   engine.Engine
	Policy   auth.Service
	BasePath string
	Auth     AuthConfig
	Hub      *realtime.Hub
	Metrics  http.Handler
	Files    http.Handler
	// MaxUploadBytes bounds attachment request bodies.
	MaxUploadBytes int64
	Log            *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"work order not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope every failed request returns.
type apiError struct {
	status int
	apiErrorBody
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

type handlers struct {
	e      engine.Engine
	policy auth.Service
	log    *zap.Logger
}

// New returns an HTTP handler exposing the work-order API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = log
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Work Orders API", "1.0.0")
	hcfg.Info.Description = apiDescription
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{e: cfg.Engine, policy: cfg.Policy, log: log.Named("http")}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = files.DefaultMaxBytes
	}

	registerHealth(group)
	h.registerWorkOrders(group)
	h.registerTransitions(group)
	h.registerAttachments(group, maxUpload+1<<20)
	h.registerCosts(group)
	h.registerNotifications(group)
	h.registerPushTokens(group)
	h.registerEvents(group)
	if cfg.Auth.AllowDevHeaders {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	if cfg.Hub != nil {
		router.Get(path.Join(basePath, "ws"), func(w http.ResponseWriter, r *http.Request) {
			p, err := principalFromRequest(r.Context())
			if err != nil {
				respondStatusError(w, err)
				return
			}
			cfg.Hub.Serve(w, r, p.OrgID, p.UserID)
		})
	}
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics)
	}
	if cfg.Files != nil {
		router.Handle("/files/*", http.StripPrefix("/files", cfg.Files))
	}
	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		apiErrorBody: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps domain errors to the HTTP envelope.
func (h handlers) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ve domain.ValidationError
	if errors.As(err, &ve) {
		details := map[string]any{}
		for k, v := range ve.Fields {
			details[k] = v
		}
		return newAPIError(http.StatusBadRequest, "invalid_input", err.Error(), details)
	}
	var te domain.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": te.From, "to": te.To})
	}
	var fe domain.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": fe.Action})
	}
	switch {
	case errors.Is(err, domain.ErrInvalidTenant):
		return newAPIError(http.StatusBadRequest, "invalid_tenant", err.Error(), nil)
	case errors.Is(err, domain.ErrConflictingAssignment):
		return newAPIError(http.StatusBadRequest, "conflicting_assignment", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidReference):
		return newAPIError(http.StatusBadRequest, "invalid_reference", err.Error(), nil)
	case errors.Is(err, domain.ErrNoFile):
		return newAPIError(http.StatusBadRequest, "no_file", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "invalid_input", err.Error(), nil)
	case errors.Is(err, domain.ErrForbidden):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.Is(err, domain.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	case errors.Is(err, domain.ErrConcurrentModification):
		return newAPIError(http.StatusConflict, "concurrent_modification", err.Error(), nil)
	case errors.Is(err, domain.ErrClosed):
		return newAPIError(http.StatusConflict, "closed", err.Error(), nil)
	case errors.Is(err, domain.ErrCounterUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "counter_unavailable", err.Error(), nil)
	default:
		h.log.Error("request failed", zap.Error(err))
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
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
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// authorize resolves the caller and applies the role rule for action, if any.
func (h handlers) authorize(ctx context.Context, action string) (Principal, error) {
	p, err := principalFromRequest(ctx)
	if err != nil {
		return Principal{}, err
	}
	if action == "" {
		return p, nil
	}
	if err := h.policy.Require(ctx, p.OrgID, p.UserID, action); err != nil {
		return Principal{}, h.handleError(err)
	}
	return p, nil
}

// apiDescription is published in openapi.json so client authors see the wire naming.
const apiDescription = "Multi-tenant work orders. All JSON field names, in requests and responses, " +
	"are snake_case: assignee_id, assignee_role, branch_id, org_seq, and work_order plus file " +
	"in attachment responses. camelCase keys are not recognised."

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
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
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
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

type workOrderOutput struct {
	Body WorkOrderResponse `json:"body"`
}

type idPath struct {
	ID string `path:"id"`
}

func (h handlers) registerWorkOrders(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-work-order",
		Method:        http.MethodPost,
		Path:          "/work-orders",
		Summary:       "Create a work order",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkOrderRequest `json:"body"`
	}) (*workOrderOutput, error) {
		p, err := h.authorize(ctx, auth.ActionCreate)
		if err != nil {
			return nil, err
		}
		client, err := rawJSON(input.Body.Client)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_input", "client must be an object", nil)
		}
		data, err := rawJSON(input.Body.Data)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_input", "data must be an object", nil)
		}
		w, err := h.e.Create(ctx, p.OrgID, engine.CreateInput{
			TemplateID:     input.Body.TemplateID,
			BranchID:       input.Body.BranchID,
			AssigneeID:     input.Body.AssigneeID,
			AssigneeRole:   input.Body.AssigneeRole,
			ScheduledStart: input.Body.ScheduledStart,
			Client:         client,
			Data:           data,
		}, p.UserID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &workOrderOutput{Body: workOrderResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-orders",
		Method:      http.MethodGet,
		Path:        "/work-orders",
		Summary:     "List work orders, newest number first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Page           int    `query:"page" default:"1" minimum:"1"`
		Limit          int    `query:"limit" default:"20" minimum:"1" maximum:"100"`
		State          string `query:"state" enum:"Created,Assigned,Started,InReview,Done"`
		AssigneeID     string `query:"assignee_id"`
		BranchID       string `query:"branch_id"`
		IncludeDeleted bool   `query:"include_deleted"`
	}) (*struct {
		Body WorkOrderPage `json:"body"`
	}, error) {
		p, err := h.authorize(ctx, "")
		if err != nil {
			return nil, err
		}
		res, err := h.e.List(ctx, engine.ListOptions{
			OrgID:          p.OrgID,
			Page:           input.Page,
			Limit:          input.Limit,
			State:          input.State,
			AssigneeID:     input.AssigneeID,
			BranchID:       input.BranchID,
			IncludeDeleted: input.IncludeDeleted,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		page := WorkOrderPage{Items: make([]WorkOrderResponse, 0, len(res.Items)), Total: res.Total, Page: res.Page, Limit: res.Limit}
		for _, w := range res.Items {
			page.Items = append(page.Items, workOrderResponse(w))
		}
		return &struct {
			Body WorkOrderPage `json:"body"`
		}{Body: page}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work-order",
		Method:      http.MethodGet,
		Path:        "/work-orders/{id}",
		Summary:     "Get a work order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*workOrderOutput, error) {
		p, err := h.authorize(ctx, "")
		if err != nil {
			return nil, err
		}
		w, err := h.e.Get(ctx, p.OrgID, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &workOrderOutput{Body: workOrderResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-work-order",
		Method:        http.MethodDelete,
		Path:          "/work-orders/{id}",
		Summary:       "Soft-delete a work order",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		p, err := h.authorize(ctx, auth.ActionDelete)
		if err != nil {
			return nil, err
		}
		if err := h.e.Delete(ctx, p.OrgID, input.ID, p.UserID); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-order-events",
		Method:      http.MethodGet,
		Path:        "/work-orders/{id}/events",
		Summary:     "Activity of one work order, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		p, err := h.authorize(ctx, "")
		if err != nil {
			return nil, err
		}
		if _, err := h.e.Get(ctx, p.OrgID, input.ID); err != nil {
			return nil, h.handleError(err)
		}
		items, err := h.e.ListEvents(ctx, p.OrgID, input.ID, input.Limit)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func (h handlers) registerTransitions(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "assign-work-order",
		Method:      http.MethodPut,
		Path:        "/work-orders/{id}/assign",
		Summary:     "Assign or reassign a work order",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body AssignRequest `json:"body"`
	}) (*workOrderOutput, error) {
		p, err := h.authorize(ctx, auth.ActionAssign)
		if err != nil {
			return nil, err
		}
		w, err := h.e.AssignWorkOrder(ctx, p.OrgID, input.ID, strings.TrimSpace(input.Body.AssigneeID), p.UserID, input.Body.Note)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &workOrderOutput{Body: workOrderResponse(w)}, nil
	})

	type noteStep func(ctx context.Context, orgID, id, actorID, note string) (domain.WorkOrder, error)
	steps := []struct {
		id, path, summary, action string
		run                       noteStep
	}{
		{"start-work-order", "/work-orders/{id}/start", "Start work (assignee only)", "", h.e.Start},
		{"submit-work-order", "/work-orders/{id}/submit-review", "Submit work for review", "", h.e.SubmitForReview},
		{"approve-work-order", "/work-orders/{id}/approve", "Approve reviewed work", auth.ActionApprove, h.e.Approve},
	}
	for _, step := range steps {
		huma.Register(api, huma.Operation{
			OperationID: step.id,
			Method:      http.MethodPut,
			Path:        step.path,
			Summary:     step.summary,
			Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *struct {
			ID   string       `path:"id"`
			Body *NoteRequest `json:"body,omitempty"`
		}) (*workOrderOutput, error) {
			p, err := h.authorize(ctx, step.action)
			if err != nil {
				return nil, err
			}
			var note string
			if input.Body != nil {
				note = input.Body.Note
			}
			w, err := step.run(ctx, p.OrgID, input.ID, p.UserID, note)
			if err != nil {
				return nil, h.handleError(err)
			}
			return &workOrderOutput{Body: workOrderResponse(w)}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "reject-work-order",
		Method:      http.MethodPut,
		Path:        "/work-orders/{id}/reject",
		Summary:     "Send reviewed work back to the assignee",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body *RejectRequest `json:"body,omitempty"`
	}) (*workOrderOutput, error) {
		p, err := h.authorize(ctx, auth.ActionReject)
		if err != nil {
			return nil, err
		}
		var reason string
		if input.Body != nil {
			reason = input.Body.Reason
		}
		w, err := h.e.Reject(ctx, p.OrgID, input.ID, p.UserID, reason)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &workOrderOutput{Body: workOrderResponse(w)}, nil
	})
}

func (h handlers) registerAttachments(api huma.API, maxBody int64) {
	huma.Register(api, huma.Operation{
		OperationID:  "upload-attachment",
		Method:       http.MethodPost,
		Path:         "/work-orders/{id}/attachments",
		Summary:      "Attach a file to a work order",
		MaxBodyBytes: maxBody,
		Errors:       []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		RawBody multipart.Form
	}) (*struct {
		Body AttachmentResponse `json:"body"`
	}, error) {
		p, err := h.authorize(ctx, "")
		if err != nil {
			return nil, err
		}
		var up *files.Upload
		if fhs := input.RawBody.File["file"]; len(fhs) > 0 {
			f, err := fhs[0].Open()
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "unreadable file part", nil)
			}
			defer f.Close()
			up = &files.Upload{
				FileName:    fhs[0].Filename,
				ContentType: fhs[0].Header.Get("Content-Type"),
				Body:        f,
			}
		}
		res, err := h.e.UploadAttachment(ctx, p.OrgID, input.ID, up, p.UserID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body AttachmentResponse `json:"body"`
		}{Body: AttachmentResponse{WorkOrder: workOrderResponse(res.WorkOrder), File: res.File}}, nil
	})
}

func (h handlers) registerCosts(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-cost",
		Method:        http.MethodPost,
		Path:          "/work-orders/{id}/costs",
		Summary:       "Add a cost line",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body CostRequest `json:"body"`
	}) (*workOrderOutput, error) {
		p, err := h.authorize(ctx, auth.ActionCost)
		if err != nil {
			return nil, err
		}
		w, err := h.e.AddCost(ctx, p.OrgID, input.ID, engine.CostInput{
			Description: input.Body.Description,
			Amount:      input.Body.Amount,
			Currency:    input.Body.Currency,
		}, p.UserID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &workOrderOutput{Body: workOrderResponse(w)}, nil
	})
}

func (h handlers) registerNotifications(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "Notifications of the caller, newest first",
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread"`
		Limit  int  `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		p, err := h.authorize(ctx, "")
		if err != nil {
			return nil, err
		}
		items, err := h.e.ListNotifications(ctx, p.OrgID, p.UserID, input.Unread, input.Limit)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPut,
		Path:        "/notifications/{id}/read",
		Summary:     "Mark a notification as read",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.Notification `json:"body"`
	}, error) {
		p, err := h.authorize(ctx, "")
		if err != nil {
			return nil, err
		}
		n, err := h.e.MarkNotificationRead(ctx, p.OrgID, p.UserID, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.Notification `json:"body"`
		}{Body: n}, nil
	})
}

func (h handlers) registerPushTokens(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "register-push-token",
		Method:      http.MethodPost,
		Path:        "/push-tokens",
		Summary:     "Register a device push token for the caller",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body PushTokenRequest `json:"body"`
	}) (*struct {
		Body domain.PushToken `json:"body"`
	}, error) {
		p, err := h.authorize(ctx, "")
		if err != nil {
			return nil, err
		}
		t, err := h.e.RegisterPushToken(ctx, p.OrgID, p.UserID, engine.PushTokenInput{
			Token:    input.Body.Token,
			Platform: input.Body.Platform,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.PushToken `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-push-token",
		Method:        http.MethodDelete,
		Path:          "/push-tokens/{token}",
		Summary:       "Remove a device push token",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		Token string `path:"token"`
	}) (*struct{}, error) {
		p, err := h.authorize(ctx, "")
		if err != nil {
			return nil, err
		}
		if err := h.e.RemovePushToken(ctx, p.OrgID, p.UserID, input.Token); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})
}

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Recent activity of the caller's organization",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		p, err := h.authorize(ctx, "")
		if err != nil {
			return nil, err
		}
		items, err := h.e.ListEvents(ctx, p.OrgID, "", input.Limit)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		user := strings.TrimSpace(input.Body.UserID)
		org := strings.TrimSpace(input.Body.OrgID)
		if user == "" || org == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id and org_id are required", nil)
		}
		token, err := signToken(authCfg.JWTSecret, user, org, input.Body.Roles, devTokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, evt := range items {
		out = append(out, eventResponse(evt))
	}
	return out
}

var _ huma.StatusError = (*apiError)(nil)
