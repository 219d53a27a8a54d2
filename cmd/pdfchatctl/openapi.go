package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"pdfchat/pkg/domain"
)

func init() {
	rootCmd.AddCommand(openapiCmd)
	openapiCmd.AddCommand(openapiCheckCmd)
}

var openapiCmd = &cobra.Command{
	Use:   "openapi",
	Short: "OpenAPI document tooling",
}

var openapiCheckCmd = &cobra.Command{
	Use:   "check [openapi.yaml]",
	Short: "Check the OpenAPI document against the server",
	Long: `Check that the OpenAPI document lists every public route, describes the
error envelope, and that the document and chat turn schemas carry the same
fields the API serializes.

Examples:
  pdfchatctl openapi check api/openapi.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "api/openapi.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		return runOpenAPICheck(cmd.OutOrStdout(), path)
	},
}

// publicRoutes mirrors the API server's mux.
var publicRoutes = []string{
	"GET /healthz",
	"POST /account/register",
	"POST /account/login",
	"POST /account/logout",
	"GET /account/me",
	"POST /pdf-upload",
	"GET /pdf-list",
	"POST /pdf-parse",
	"POST /pdf-select",
	"POST /chat/pdf-chat",
	"GET /chat/chat-history",
}

type openAPIDoc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

func runOpenAPICheck(out io.Writer, path string) error {
	doc, err := loadDoc(path)
	if err != nil {
		return err
	}
	if err := checkOpenAPI(doc); err != nil {
		return err
	}
	fmt.Fprintln(out, "OpenAPI consistency check passed.")
	return nil
}

func checkOpenAPI(doc openAPIDoc) error {
	if err := checkRoutes(doc); err != nil {
		return err
	}
	errSchema, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		return err
	}
	if err := validateErrorResponse(errSchema); err != nil {
		return err
	}
	for name, model := range map[string]any{
		"PDFDocument": domain.PDFDocument{},
		"ChatTurn":    domain.ChatTurn{},
	} {
		s, err := getSchema(doc, name)
		if err != nil {
			return err
		}
		if err := ensureSameFields(name, s, jsonFields(reflect.TypeOf(model))); err != nil {
			return err
		}
	}
	return nil
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func checkRoutes(doc openAPIDoc) error {
	var missing []string
	for _, route := range publicRoutes {
		method, path, _ := strings.Cut(route, " ")
		ops, ok := doc.Paths[path]
		if !ok {
			missing = append(missing, route)
			continue
		}
		if _, ok := ops[strings.ToLower(method)]; !ok {
			missing = append(missing, route)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("routes missing from paths: %s", strings.Join(missing, ", "))
	}
	return nil
}

func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	required := makeSet(s.Required)
	for _, field := range []string{"error", "code"} {
		if !required[field] {
			return fmt.Errorf("ErrorResponse.required must include %q", field)
		}
	}
	for _, field := range []string{"error", "code", "requestId"} {
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("ErrorResponse.%s must be string", field)
		}
	}
	return nil
}

// jsonFields lists the serialized field names of a struct type.
func jsonFields(t reflect.Type) []string {
	var names []string
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ensureSameFields(name string, s schema, fields []string) error {
	documented := make([]string, 0, len(s.Properties))
	for prop := range s.Properties {
		documented = append(documented, prop)
	}
	sort.Strings(documented)
	if strings.Join(documented, ",") != strings.Join(fields, ",") {
		return fmt.Errorf("%s properties mismatch: documented %v, serialized %v", name, documented, fields)
	}
	return nil
}

func makeSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}
