package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jacksonlee411/schema-fields/modules/schema/domain/ports"
	"github.com/jacksonlee411/schema-fields/modules/schema/domain/types"
	"github.com/jacksonlee411/schema-fields/modules/schema/infrastructure/persistence"
	"github.com/jacksonlee411/schema-fields/modules/schema/services"
)

const usage = "usage: dbtool <migrate|ensure-collections|list-fields|fields-smoke> [args]"

func main() {
	if len(os.Args) < 2 {
		fatalf(usage)
	}
	if err := run(context.Background(), os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fatal(err)
	}
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "migrate":
		return migrate(ctx, args, out)
	case "ensure-collections":
		return ensureCollections(ctx, args, out)
	case "list-fields":
		return listFields(ctx, args, out)
	case "fields-smoke":
		return fieldsSmoke(ctx, args, out)
	default:
		return fmt.Errorf("unknown subcommand: %s", cmd)
	}
}

type storeFlags struct {
	kind string
	url  string
	path string
}

func (f *storeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.kind, "store", "sqlite", "store kind (sqlite|postgres)")
	fs.StringVar(&f.url, "url", "", "postgres connection string")
	fs.StringVar(&f.path, "path", "schema_fields.db", "sqlite database path")
}

// open returns a migrated store and its closer.
func (f storeFlags) open(ctx context.Context) (ports.FieldStore, func(), error) {
	switch f.kind {
	case "sqlite":
		s, err := persistence.OpenFieldSQLiteStore(ctx, f.path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		if f.url == "" {
			return nil, nil, fmt.Errorf("missing --url")
		}
		pool, err := pgxpool.New(ctx, f.url)
		if err != nil {
			return nil, nil, err
		}
		s := persistence.NewFieldPGStore(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown --store %q", f.kind)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func migrate(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("migrate")
	var sf storeFlags
	sf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, closeStore, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	_, _ = fmt.Fprintf(out, "[migrate] OK store=%s\n", sf.kind)
	return nil
}

func ensureCollections(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("ensure-collections")
	var sf storeFlags
	sf.register(fs)
	var list string
	fs.StringVar(&list, "collections", "", "comma separated collection names")
	if err := fs.Parse(args); err != nil {
		return err
	}
	names := types.SplitFieldNames(list)
	if len(names) == 0 {
		return fmt.Errorf("missing --collections")
	}

	store, closeStore, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	for _, c := range names {
		if err := store.EnsureCollection(ctx, c); err != nil {
			return fmt.Errorf("ensure %s: %w", c, err)
		}
	}
	_, _ = fmt.Fprintf(out, "[ensure-collections] OK collections=%s\n", strings.Join(names, ","))
	return nil
}

func listFields(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("list-fields")
	var sf storeFlags
	sf.register(fs)
	var collection string
	fs.StringVar(&collection, "collection", "", "collection name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if collection == "" {
		return fmt.Errorf("missing --collection")
	}

	store, closeStore, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	fields, err := store.ListFields(ctx, collection)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(fields)
}

// fieldsSmoke runs a create/read/batch/delete cycle through the schema service
// against a scratch collection.
func fieldsSmoke(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("fields-smoke")
	var sf storeFlags
	sf.register(fs)
	collection := fmt.Sprintf("smoke_%d", time.Now().UnixNano())
	fs.StringVar(&collection, "collection", collection, "scratch collection name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, closeStore, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.EnsureCollection(ctx, collection); err != nil {
		return err
	}
	svc, err := services.NewSchemaService(services.Options{Store: store})
	if err != nil {
		return err
	}

	for _, name := range []string{"title", "body"} {
		if _, err := svc.AddField(ctx, collection, name, types.FieldPayload{"type": "string"}, nil); err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
	}
	found, err := svc.FindFields(ctx, collection, []string{"title", "body", "missing"}, nil)
	if err != nil {
		return err
	}
	if len(found) != 2 {
		return fmt.Errorf("expected 2 fields, got %d", len(found))
	}
	updated, err := svc.BatchUpdateFieldWithIDs(ctx, collection, []string{"title", "body"}, types.BatchPayload{Common: types.FieldPayload{"hidden": true}}, nil)
	if err != nil {
		return err
	}
	if len(updated) != 2 {
		return fmt.Errorf("expected 2 updated fields, got %d", len(updated))
	}
	for _, name := range []string{"title", "body"} {
		if _, err := svc.DeleteField(ctx, collection, name, nil); err != nil {
			return fmt.Errorf("delete %s: %w", name, err)
		}
	}
	left, err := svc.FindAllFields(ctx, collection, nil)
	if err != nil {
		return err
	}
	if len(left) != 0 {
		return fmt.Errorf("expected empty collection, got %d fields", len(left))
	}

	_, _ = fmt.Fprintf(out, "[fields-smoke] OK collection=%s\n", collection)
	return nil
}

func fatal(err error) {
	if err == nil {
		os.Exit(1)
	}
	fatalf("%v", err)
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
