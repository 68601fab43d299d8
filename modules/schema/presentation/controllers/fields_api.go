package controllers

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-logr/logr"

	"github.com/jacksonlee411/schema-fields/internal/routing"
	"github.com/jacksonlee411/schema-fields/modules/schema/domain/ports"
	"github.com/jacksonlee411/schema-fields/modules/schema/domain/types"
	"github.com/jacksonlee411/schema-fields/pkg/httperr"
)

const DefaultBasePath = "/fields"

// maxBodyBytes bounds a single request body.
const maxBodyBytes = 4 << 20

// FieldsController is the HTTP surface over a SchemaService. It keeps no
// state between requests.
type FieldsController struct {
	Service ports.SchemaService
	Log     logr.Logger
}

type response struct {
	status int
	data   any
}

// Route describes one endpoint mounted by RegisterRoutes.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Routes lists the endpoints served under basePath.
func (c FieldsController) Routes(basePath string) []Route {
	collection := normalizeBasePath(basePath) + "/{collection}"
	field := collection + "/{field}"
	return []Route{
		{Method: http.MethodPost, Path: collection, Handler: c.HandleCreate},
		{Method: http.MethodGet, Path: collection, Handler: c.HandleAll},
		{Method: http.MethodPatch, Path: collection, Handler: c.HandleUpdate},
		{Method: http.MethodGet, Path: field, Handler: c.HandleRead},
		{Method: http.MethodPatch, Path: field, Handler: c.HandleUpdate},
		{Method: http.MethodDelete, Path: field, Handler: c.HandleDelete},
	}
}

func (c FieldsController) RegisterRoutes(r *routing.Router, basePath string) {
	for _, rt := range c.Routes(basePath) {
		r.Handle(routing.RouteClassInternalAPI, rt.Method, rt.Path, rt.Handler)
	}
}

func (c FieldsController) HandleCreate(w http.ResponseWriter, r *http.Request) {
	payload, ok := c.readPayload(w, r)
	if !ok {
		return
	}
	resp, err := c.create(r.Context(), r.PathValue("collection"), payload, r.URL.Query())
	c.finish(w, r, resp, err)
}

func (c FieldsController) HandleRead(w http.ResponseWriter, r *http.Request) {
	resp, err := c.read(r.Context(), r.PathValue("collection"), r.PathValue("field"), r.URL.Query())
	c.finish(w, r, resp, err)
}

func (c FieldsController) HandleAll(w http.ResponseWriter, r *http.Request) {
	resp, err := c.all(r.Context(), r.PathValue("collection"), r.URL.Query())
	c.finish(w, r, resp, err)
}

func (c FieldsController) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	payload, ok := c.readPayload(w, r)
	if !ok {
		return
	}
	resp, err := c.update(r.Context(), r.PathValue("collection"), r.PathValue("field"), payload, r.URL.Query())
	c.finish(w, r, resp, err)
}

func (c FieldsController) HandleDelete(w http.ResponseWriter, r *http.Request) {
	resp, err := c.delete(r.Context(), r.PathValue("collection"), r.PathValue("field"), r.URL.Query())
	c.finish(w, r, resp, err)
}

func (c FieldsController) create(ctx context.Context, collection string, payload types.Payload, opts url.Values) (response, error) {
	if payload.Empty() {
		return response{}, httperr.NewBadRequest("payload is required")
	}
	if payload.Object == nil {
		return response{}, httperr.NewBadRequest("payload must be an object")
	}

	attrs := make(types.FieldPayload, len(payload.Object))
	var name string
	for k, v := range payload.Object {
		if k != types.KeyField {
			attrs[k] = v
			continue
		}
		s, ok := v.(string)
		if !ok {
			return response{}, httperr.NewBadRequest("field must be a string")
		}
		name = s
	}

	f, err := c.Service.AddField(ctx, collection, name, attrs, opts)
	if err != nil {
		return response{}, err
	}
	return response{status: http.StatusOK, data: f}, nil
}

func (c FieldsController) read(ctx context.Context, collection string, field string, opts url.Values) (response, error) {
	names := types.SplitFieldNames(field)
	if len(names) > 1 {
		fields, err := c.Service.FindFields(ctx, collection, names, opts)
		if err != nil {
			return response{}, err
		}
		if fields == nil {
			fields = map[string]types.Field{}
		}
		return response{status: http.StatusOK, data: fields}, nil
	}

	name := strings.TrimSpace(field)
	if len(names) == 1 {
		name = names[0]
	}
	f, err := c.Service.FindField(ctx, collection, name, opts)
	if err != nil {
		return response{}, err
	}
	return response{status: http.StatusOK, data: f}, nil
}

func (c FieldsController) all(ctx context.Context, collection string, opts url.Values) (response, error) {
	fields, err := c.Service.FindAllFields(ctx, collection, opts)
	if err != nil {
		return response{}, err
	}
	if fields == nil {
		fields = []types.Field{}
	}
	return response{status: http.StatusOK, data: fields}, nil
}

func (c FieldsController) update(ctx context.Context, collection string, field string, payload types.Payload, opts url.Values) (response, error) {
	if payload.Empty() {
		return response{}, httperr.NewBadRequest("payload is required")
	}
	plan, err := types.ClassifyUpdate(field, payload)
	if err != nil {
		return response{}, err
	}
	return c.dispatch(ctx, collection, plan, opts)
}

// dispatch runs a classified update. A single update without a field segment
// applies collection-wide and answers 204.
func (c FieldsController) dispatch(ctx context.Context, collection string, plan types.UpdatePlan, opts url.Values) (response, error) {
	if plan.IsBatch() {
		return c.batch(ctx, collection, plan, opts)
	}
	f, err := c.Service.ChangeField(ctx, collection, plan.Field, plan.Attributes, opts)
	if err != nil {
		return response{}, err
	}
	if plan.Field == "" {
		return response{status: http.StatusNoContent}, nil
	}
	return response{status: http.StatusOK, data: f}, nil
}

func (c FieldsController) batch(ctx context.Context, collection string, plan types.UpdatePlan, opts url.Values) (response, error) {
	if err := c.Service.RejectIfSystemCollection(ctx, collection); err != nil {
		return response{}, err
	}

	var (
		fields []types.Field
		err    error
	)
	switch plan.Kind {
	case types.UpdateBatchByIDs:
		fields, err = c.Service.BatchUpdateFieldWithIDs(ctx, collection, plan.IDs, plan.Batch, opts)
	default:
		fields, err = c.Service.BatchUpdateField(ctx, collection, plan.Batch, opts)
	}
	if err != nil {
		return response{}, err
	}
	if len(fields) == 0 {
		return response{status: http.StatusNoContent, data: []types.Field{}}, nil
	}
	return response{status: http.StatusOK, data: fields}, nil
}

func (c FieldsController) delete(ctx context.Context, collection string, field string, opts url.Values) (response, error) {
	if _, err := c.Service.DeleteField(ctx, collection, field, opts); err != nil {
		return response{}, err
	}
	return response{status: http.StatusNoContent}, nil
}

func (c FieldsController) readPayload(w http.ResponseWriter, r *http.Request) (types.Payload, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		c.writeError(w, r, httperr.NewBadRequest("unreadable request body"))
		return types.Payload{}, false
	}
	payload, err := types.DecodePayload(body)
	if err != nil {
		c.writeError(w, r, err)
		return types.Payload{}, false
	}
	return payload, true
}

func (c FieldsController) finish(w http.ResponseWriter, r *http.Request, resp response, err error) {
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	routing.WriteData(w, resp.status, resp.data)
}

func (c FieldsController) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httperr.Status(err)
	if status >= http.StatusInternalServerError {
		c.Log.Error(err, "field request failed", "method", r.Method, "path", r.URL.Path, "trace_id", routing.TraceID(r))
	}
	routing.WriteError(w, r, routing.RouteClassInternalAPI, status, httperr.Code(err), httperr.Message(err))
}

func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		p = DefaultBasePath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}
