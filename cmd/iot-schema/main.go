// Command iot-schema writes a JSON Schema for every request, response and
// event document of the shadow, jobs and identity services, plus a YAML
// catalog mapping each operation and stream to its topics and schemas.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

const draft07 = "http://json-schema.org/draft-07/schema#"

// Catalog is the YAML index written next to the schemas.
type Catalog struct {
	Version    int                `yaml:"version"`
	Operations []CatalogOperation `yaml:"operations"`
	Streams    []CatalogStream    `yaml:"streams"`
}

type CatalogOperation struct {
	Service          string `yaml:"service"`
	Name             string `yaml:"name"`
	Publish          string `yaml:"publish"`
	Accepted         string `yaml:"accepted"`
	Rejected         string `yaml:"rejected"`
	CorrelationToken string `yaml:"correlationToken,omitempty"`
	RequestSchema    string `yaml:"requestSchema"`
	AcceptedSchema   string `yaml:"acceptedSchema"`
	RejectedSchema   string `yaml:"rejectedSchema"`
}

type CatalogStream struct {
	Service     string `yaml:"service"`
	Name        string `yaml:"name"`
	Filter      string `yaml:"filter"`
	EventSchema string `yaml:"eventSchema"`
}

func main() {
	outDir := flag.String("out", "./schemas", "Output directory for schemas and catalog")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	n, err := export(*outDir)
	if err != nil {
		log.Error("schema.export.fail", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log.Info("schema.export.done", slog.String("dir", *outDir), slog.Int("schemas", n))
}

// export writes every schema and the catalog to dir and returns the number of
// schema files written.
func export(dir string) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create output directory: %w", err)
	}

	schemas := map[string]*jsonschema.Schema{}
	file := func(service string, v any) string {
		name := service + "." + reflect.TypeOf(v).Name()
		if _, ok := schemas[name]; !ok {
			schemas[name] = schemaFor(name, v)
		}
		return name + ".v1.json"
	}

	cat := Catalog{Version: 1}
	for _, op := range operations {
		entry := CatalogOperation{
			Service:        op.Service,
			Name:           op.Name,
			Publish:        op.Topic,
			Accepted:       op.Topic + "/accepted",
			Rejected:       op.Topic + "/rejected",
			RequestSchema:  file(op.Service, op.Request),
			AcceptedSchema: file(op.Service, op.Accepted),
			RejectedSchema: file(op.Service, op.Rejected),
		}
		if op.Token {
			entry.CorrelationToken = "clientToken"
		}
		cat.Operations = append(cat.Operations, entry)
	}
	for _, s := range streams {
		cat.Streams = append(cat.Streams, CatalogStream{
			Service:     s.Service,
			Name:        s.Name,
			Filter:      s.Filter,
			EventSchema: file(s.Service, s.Event),
		})
	}

	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := json.MarshalIndent(schemas[name], "", "  ")
		if err != nil {
			return 0, fmt.Errorf("marshal schema %s: %w", name, err)
		}
		if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data)); err != nil {
			return 0, fmt.Errorf("schema %s does not compile: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name+".v1.json"), data, 0o644); err != nil {
			return 0, fmt.Errorf("write schema %s: %w", name, err)
		}
	}

	data, err := yaml.Marshal(cat)
	if err != nil {
		return 0, fmt.Errorf("marshal catalog: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "catalog.v1.yaml"), data, 0o644); err != nil {
		return 0, fmt.Errorf("write catalog: %w", err)
	}
	return len(names), nil
}

// schemaFor reflects v into a self-contained draft-07 schema. Services may
// add fields over time, so additional properties are allowed.
func schemaFor(name string, v any) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(v)
	s.Version = draft07
	s.Title = name
	return s
}
