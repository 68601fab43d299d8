package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jacksonlee411/schema-fields/modules/schema/domain/ports"
	"github.com/jacksonlee411/schema-fields/modules/schema/domain/types"
	"github.com/jacksonlee411/schema-fields/modules/schema/infrastructure/persistence"
	"github.com/jacksonlee411/schema-fields/pkg/authz"
	"github.com/jacksonlee411/schema-fields/pkg/httperr"
)

type authorizerStub struct {
	fn    func(subject, domain, object, action string) (bool, bool, error)
	calls []string
}

func (a *authorizerStub) Authorize(subject, domain, object, action string) (bool, bool, error) {
	a.calls = append(a.calls, subject+"|"+domain+"|"+object+"|"+action)
	if a.fn == nil {
		return true, true, nil
	}
	return a.fn(subject, domain, object, action)
}

type publisherStub struct {
	err    error
	events []types.FieldEvent
}

func (p *publisherStub) Publish(_ context.Context, ev types.FieldEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

type fixture struct {
	svc    *SchemaService
	store  *persistence.FieldMemoryStore
	authz  *authorizerStub
	events *publisherStub
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := persistence.NewFieldMemoryStore("posts", "system_users")
	f := fixture{store: store, authz: &authorizerStub{}, events: &publisherStub{}}
	svc, err := NewSchemaService(Options{Store: store, Authorizer: f.authz, Events: f.events})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	f.svc = svc
	return f
}

func seed(t *testing.T, f fixture, names ...string) {
	t.Helper()
	for _, n := range names {
		if _, err := f.svc.AddField(context.Background(), "posts", n, types.FieldPayload{"type": "string"}, nil); err != nil {
			t.Fatalf("seed %s: %v", n, err)
		}
	}
}

func TestNewSchemaService_RequiresStore(t *testing.T) {
	if _, err := NewSchemaService(Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestAddField(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	got, err := f.svc.AddField(ctx, "posts", "title", types.FieldPayload{"id": "x", "collection": "other", "sort": 1}, url.Values{"fields": {"*"}})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.Type != "string" || got.Collection != "posts" {
		t.Fatalf("got=%+v", got)
	}
	if _, ok := got.Attributes["id"]; ok {
		t.Fatalf("reserved key stored: %+v", got.Attributes)
	}
	if len(f.events.events) != 1 || f.events.events[0].Action != types.EventFieldCreate {
		t.Fatalf("events=%+v", f.events.events)
	}

	cases := []struct {
		name       string
		collection string
		field      string
		attrs      types.FieldPayload
		status     int
		code       string
	}{
		{name: "duplicate", collection: "posts", field: "title", status: 422, code: "field_exists"},
		{name: "missing collection", collection: "nope", field: "x", status: 404, code: "collection_not_found"},
		{name: "empty name", collection: "posts", field: " ", status: 400, code: "invalid_payload"},
		{name: "bad name", collection: "posts", field: "9lives", status: 400, code: "invalid_payload"},
		{name: "bad type", collection: "posts", field: "x", attrs: types.FieldPayload{"type": "blob"}, status: 400, code: "invalid_payload"},
		{name: "non-string type", collection: "posts", field: "x", attrs: types.FieldPayload{"type": 1}, status: 400, code: "invalid_payload"},
		{name: "bad rule", collection: "posts", field: "x", attrs: types.FieldPayload{"validation": "value >"}, status: 422, code: "invalid_validation_rule"},
		{name: "non-bool rule", collection: "posts", field: "x", attrs: types.FieldPayload{"validation": "1 + 1"}, status: 422, code: "invalid_validation_rule"},
		{name: "non-string rule", collection: "posts", field: "x", attrs: types.FieldPayload{"validation": 1}, status: 422, code: "invalid_validation_rule"},
		{name: "default rejected", collection: "posts", field: "x", attrs: types.FieldPayload{"type": "integer", "validation": "value > 10", "default": 3}, status: 422, code: "default_rejected"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.AddField(ctx, tc.collection, tc.field, tc.attrs, nil)
			if httperr.Status(err) != tc.status || httperr.Code(err) != tc.code {
				t.Fatalf("status=%d code=%s err=%v", httperr.Status(err), httperr.Code(err), err)
			}
		})
	}

	if _, err := f.svc.AddField(ctx, "posts", "age", types.FieldPayload{"type": "Integer", "validation": "value >= 0", "default": 5}, nil); err != nil {
		t.Fatalf("err=%v", err)
	}
}

func TestAuthorization(t *testing.T) {
	ctx := authz.WithPrincipal(context.Background(), authz.Principal{ID: "u1", RoleSlug: "viewer"})
	f := newFixture(t)
	seed(t, f, "title")

	f.authz.fn = func(subject, domain, object, action string) (bool, bool, error) {
		return action == authz.ActionRead, true, nil
	}
	if _, err := f.svc.FindField(ctx, "posts", "title", nil); err != nil {
		t.Fatalf("err=%v", err)
	}
	_, err := f.svc.ChangeField(ctx, "posts", "title", types.FieldPayload{"note": "x"}, nil)
	if httperr.Status(err) != 401 {
		t.Fatalf("err=%v", err)
	}
	last := f.authz.calls[len(f.authz.calls)-1]
	if last != "role:viewer|posts|schema.fields|admin" {
		t.Fatalf("call=%s", last)
	}

	f.authz.fn = func(string, string, string, string) (bool, bool, error) { return false, false, nil }
	if _, err := f.svc.ChangeField(ctx, "posts", "title", types.FieldPayload{"note": "x"}, nil); err != nil {
		t.Fatalf("shadow deny must not block: %v", err)
	}
	if ev := f.events.events[len(f.events.events)-1]; ev.Actor != "u1" {
		t.Fatalf("actor=%s", ev.Actor)
	}

	f.authz.fn = func(string, string, string, string) (bool, bool, error) { return false, false, errors.New("casbin") }
	if _, err := f.svc.FindAllFields(ctx, "posts", nil); httperr.Status(err) != 500 {
		t.Fatalf("err=%v", err)
	}
}

func TestFindFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seed(t, f, "title", "body")

	got, err := f.svc.FindFields(ctx, "posts", []string{"title", "missing", "title"}, nil)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(got) != 1 || got["title"].Field != "title" {
		t.Fatalf("got=%+v", got)
	}
	if _, err := f.svc.FindFields(ctx, "nope", []string{"a", "b"}, nil); httperr.Code(err) != "collection_not_found" {
		t.Fatalf("err=%v", err)
	}
	if _, err := f.svc.FindField(ctx, "posts", "missing", nil); httperr.Code(err) != "field_not_found" {
		t.Fatalf("err=%v", err)
	}
	all, err := f.svc.FindAllFields(ctx, "posts", nil)
	if err != nil || len(all) != 2 {
		t.Fatalf("all=%+v err=%v", all, err)
	}
}

func TestChangeField_MergesAttributes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.svc.AddField(ctx, "posts", "title", types.FieldPayload{"max_length": 10, "note": "a"}, nil); err != nil {
		t.Fatalf("err=%v", err)
	}
	got, err := f.svc.ChangeField(ctx, "posts", "title", types.FieldPayload{"note": nil, "required": true, "type": "text"}, nil)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.Type != "text" || got.Attributes["max_length"] != 10 || got.Attributes["required"] != true {
		t.Fatalf("got=%+v", got)
	}
	if _, ok := got.Attributes["note"]; ok {
		t.Fatalf("null should remove attribute: %+v", got.Attributes)
	}
	if _, err := f.svc.ChangeField(ctx, "posts", "ghost", types.FieldPayload{"a": 1}, nil); httperr.Message(err) != "field not found: posts.ghost" {
		t.Fatalf("err=%v", err)
	}
}

func TestChangeField_EmptyNameAppliesCollectionWide(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seed(t, f, "title", "body")

	ack, err := f.svc.ChangeField(ctx, "posts", "", types.FieldPayload{"hidden": true}, nil)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if ack.Collection != "posts" || ack.Field != "" {
		t.Fatalf("ack=%+v", ack)
	}
	for _, name := range []string{"title", "body"} {
		got, err := f.svc.FindField(ctx, "posts", name, nil)
		if err != nil || got.Attributes["hidden"] != true || got.Type != "string" {
			t.Fatalf("%s=%+v err=%v", name, got, err)
		}
	}
	if len(f.events.events) != 4 || f.events.events[3].Action != types.EventFieldUpdate {
		t.Fatalf("events=%+v", f.events.events)
	}

	if _, err := f.svc.ChangeField(ctx, "system_users", "", types.FieldPayload{"hidden": true}, nil); httperr.Code(err) != "system_collection_forbidden" {
		t.Fatalf("err=%v", err)
	}
	if _, err := f.svc.ChangeField(ctx, "pages", "", types.FieldPayload{"hidden": true}, nil); httperr.Code(err) != "collection_not_found" {
		t.Fatalf("err=%v", err)
	}
	if _, err := f.svc.ChangeField(ctx, "posts", "", types.FieldPayload{"type": "nope"}, nil); !httperr.IsBadRequest(err) {
		t.Fatalf("err=%v", err)
	}
}

// slowReadStore delays reads made inside UpdateFields so interleaving
// read-merge-write cycles would lose updates.
type slowReadStore struct {
	*persistence.FieldMemoryStore
}

func (s slowReadStore) UpdateFields(ctx context.Context, collection string, mutate ports.FieldMutation) ([]types.Field, error) {
	return s.FieldMemoryStore.UpdateFields(ctx, collection, func(ctx context.Context, r ports.FieldReader) ([]types.Field, error) {
		return mutate(ctx, slowReader{r})
	})
}

type slowReader struct {
	ports.FieldReader
}

func (r slowReader) GetField(ctx context.Context, collection string, field string) (types.Field, error) {
	time.Sleep(2 * time.Millisecond)
	return r.FieldReader.GetField(ctx, collection, field)
}

func TestChangeField_ConcurrentMergesKeepEveryKey(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewFieldMemoryStore("posts")
	svc, err := NewSchemaService(Options{Store: slowReadStore{store}})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if _, err := svc.AddField(ctx, "posts", "title", nil, nil); err != nil {
		t.Fatalf("err=%v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ChangeField(ctx, "posts", "title", types.FieldPayload{fmt.Sprintf("k%d", i): i}, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("err=%v", err)
		}
	}

	got, err := svc.FindField(ctx, "posts", "title", nil)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(got.Attributes) != n {
		t.Fatalf("attributes=%d want=%d", len(got.Attributes), n)
	}
}

func TestDeleteField(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seed(t, f, "title")

	ack, err := f.svc.DeleteField(ctx, "posts", "title", nil)
	if err != nil || ack.Field != "title" {
		t.Fatalf("ack=%+v err=%v", ack, err)
	}
	if _, err := f.svc.DeleteField(ctx, "posts", "title", nil); httperr.Code(err) != "field_not_found" {
		t.Fatalf("err=%v", err)
	}
	if ev := f.events.events[len(f.events.events)-1]; ev.Action != types.EventFieldDelete || ev.Actor != authz.RoleAnonymous {
		t.Fatalf("event=%+v", ev)
	}
}

func TestBatchUpdateField(t *testing.T) {
	ctx := context.Background()

	t.Run("sequence", func(t *testing.T) {
		f := newFixture(t)
		seed(t, f, "title", "body")
		out, err := f.svc.BatchUpdateField(ctx, "posts", types.BatchPayload{Entries: []types.FieldPayload{
			{"field": "body", "sort": 1},
			{"field": "title", "sort": 2},
			{"field": "body", "note": "twice"},
		}}, nil)
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if len(out) != 2 || out[0].Field != "body" || out[0].Attributes["note"] != "twice" || out[0].Attributes["sort"] != 1 {
			t.Fatalf("out=%+v", out)
		}
	})

	t.Run("common applies to whole collection", func(t *testing.T) {
		f := newFixture(t)
		seed(t, f, "title", "body")
		out, err := f.svc.BatchUpdateField(ctx, "posts", types.BatchPayload{Common: types.FieldPayload{"hidden": true}}, nil)
		if err != nil || len(out) != 2 {
			t.Fatalf("out=%+v err=%v", out, err)
		}
		if len(f.events.events) != 4 {
			t.Fatalf("events=%d", len(f.events.events))
		}
	})

	t.Run("empty collection yields empty result", func(t *testing.T) {
		f := newFixture(t)
		out, err := f.svc.BatchUpdateField(ctx, "posts", types.BatchPayload{Common: types.FieldPayload{"hidden": true}}, nil)
		if err != nil || out == nil || len(out) != 0 {
			t.Fatalf("out=%v err=%v", out, err)
		}
	})

	t.Run("atomic", func(t *testing.T) {
		f := newFixture(t)
		seed(t, f, "title")
		_, err := f.svc.BatchUpdateField(ctx, "posts", types.BatchPayload{Entries: []types.FieldPayload{
			{"field": "title", "type": "text"},
			{"field": "missing", "type": "text"},
		}}, nil)
		if httperr.Code(err) != "field_not_found" {
			t.Fatalf("err=%v", err)
		}
		got, _ := f.svc.FindField(ctx, "posts", "title", nil)
		if got.Type != "string" {
			t.Fatalf("partial batch applied: %+v", got)
		}
	})

	t.Run("entry without field", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.BatchUpdateField(ctx, "posts", types.BatchPayload{Entries: []types.FieldPayload{{"sort": 1}}}, nil)
		if !httperr.IsBadRequest(err) {
			t.Fatalf("err=%v", err)
		}
	})

	t.Run("system collection", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.BatchUpdateField(ctx, "system_users", types.BatchPayload{Common: types.FieldPayload{"a": 1}}, nil)
		if httperr.Code(err) != "system_collection_forbidden" {
			t.Fatalf("err=%v", err)
		}
	})
}

func TestBatchUpdateFieldWithIDs(t *testing.T) {
	ctx := context.Background()

	t.Run("common", func(t *testing.T) {
		f := newFixture(t)
		seed(t, f, "title", "body", "slug")
		out, err := f.svc.BatchUpdateFieldWithIDs(ctx, "posts", []string{"title", "body"}, types.BatchPayload{Common: types.FieldPayload{"hidden": true}}, nil)
		if err != nil || len(out) != 2 {
			t.Fatalf("out=%+v err=%v", out, err)
		}
		slug, _ := f.svc.FindField(ctx, "posts", "slug", nil)
		if _, ok := slug.Attributes["hidden"]; ok {
			t.Fatalf("untargeted field changed: %+v", slug)
		}
	})

	t.Run("sequence pairs by position", func(t *testing.T) {
		f := newFixture(t)
		seed(t, f, "title", "body")
		out, err := f.svc.BatchUpdateFieldWithIDs(ctx, "posts", []string{"title", "body"}, types.BatchPayload{Entries: []types.FieldPayload{{"sort": 2}, {"sort": 1}}}, nil)
		if err != nil || len(out) != 2 || out[0].Attributes["sort"] != 2 {
			t.Fatalf("out=%+v err=%v", out, err)
		}
	})

	t.Run("entry outside list", func(t *testing.T) {
		f := newFixture(t)
		seed(t, f, "title", "body")
		_, err := f.svc.BatchUpdateFieldWithIDs(ctx, "posts", []string{"title"}, types.BatchPayload{Entries: []types.FieldPayload{{"field": "body"}}}, nil)
		if !httperr.IsBadRequest(err) {
			t.Fatalf("err=%v", err)
		}
	})

	t.Run("empty id", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.BatchUpdateFieldWithIDs(ctx, "posts", []string{"title", ""}, types.BatchPayload{Common: types.FieldPayload{"a": 1}}, nil)
		if !httperr.IsBadRequest(err) {
			t.Fatalf("err=%v", err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.BatchUpdateFieldWithIDs(ctx, "posts", []string{"ghost"}, types.BatchPayload{Common: types.FieldPayload{"a": 1}}, nil)
		if httperr.Code(err) != "field_not_found" || httperr.Message(err) != "field not found: posts.ghost" {
			t.Fatalf("err=%v", err)
		}
	})
}

func TestRejectIfSystemCollection(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.RejectIfSystemCollection(context.Background(), "System_Users"); httperr.Status(err) != 403 {
		t.Fatalf("err=%v", err)
	}
	if err := f.svc.RejectIfSystemCollection(context.Background(), "posts"); err != nil {
		t.Fatalf("err=%v", err)
	}

	svc, _ := NewSchemaService(Options{Store: f.store, SystemPrefix: "dir_"})
	if err := svc.RejectIfSystemCollection(context.Background(), "system_users"); err != nil {
		t.Fatalf("err=%v", err)
	}
}

func TestPublishFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("redis down")
	if _, err := f.svc.AddField(context.Background(), "posts", "title", nil, nil); err != nil {
		t.Fatalf("publish failure must not fail the call: %v", err)
	}
}
