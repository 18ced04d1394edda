package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/crateworks/crate-validator/pkg/crate"
)

const builtinFilesPresent = "files_present"

type check interface {
	ID() string
	Severity() Severity
	run(ctx context.Context, in *evalInput) ([]Issue, error)
}

// evalInput is what every check sees of a crate.
type evalInput struct {
	crate *crate.Crate
	vars  map[string]any
}

func newEvalInput(c *crate.Crate) *evalInput {
	graph := make([]any, 0, len(c.Graph))
	for _, e := range c.Graph {
		graph = append(graph, e)
	}
	return &evalInput{
		crate: c,
		vars: map[string]any{
			"doc":        c.Document,
			"graph":      graph,
			"root":       orEmpty(c.RootEntity),
			"descriptor": orEmpty(c.Descriptor),
		},
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

type baseCheck struct {
	id       string
	severity Severity
	message  string
}

func (b baseCheck) ID() string         { return b.id }
func (b baseCheck) Severity() Severity { return b.severity }

func (b baseCheck) issue(message, focus string) Issue {
	return Issue{Severity: b.severity, Message: message, Check: b.id, FocusNode: focus}
}

func newCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("graph", cel.ListType(cel.DynType)),
		cel.Variable("root", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("descriptor", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("entity", cel.MapType(cel.StringType, cel.DynType)),
	)
}

func compileCheck(env *cel.Env, profileID string, def CheckSpec) (check, error) {
	sev := Required
	if def.Severity != "" {
		s, err := ParseSeverity(def.Severity)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", def.ID, err)
		}
		sev = s
	}
	message := def.Message
	if message == "" {
		message = def.Name
	}
	base := baseCheck{id: profileID + "_" + def.ID, severity: sev, message: message}

	kinds := 0
	for _, set := range []bool{def.Schema != nil, def.Expr != "", def.Builtin != ""} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return nil, fmt.Errorf("check %s: exactly one of schema, expr or builtin must be set", base.id)
	}

	switch {
	case def.Schema != nil:
		return compileSchemaCheck(base, def.Schema)
	case def.Expr != "":
		return compileCELCheck(env, base, def.Expr, def.ForEach)
	default:
		if def.Builtin != builtinFilesPresent {
			return nil, fmt.Errorf("check %s: unknown builtin %q", base.id, def.Builtin)
		}
		return filesPresentCheck{base}, nil
	}
}

type schemaCheck struct {
	baseCheck
	schema *jsonschema.Schema
}

func compileSchemaCheck(base baseCheck, schema map[string]any) (check, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("check %s: encode schema: %w", base.id, err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://crateworks.local/profiles/%s.schema.json", base.id)
	if err := c.AddResource(schemaURL, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("check %s: schema load failed: %w", base.id, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("check %s: schema compile failed: %w", base.id, err)
	}
	return schemaCheck{baseCheck: base, schema: compiled}, nil
}

func (c schemaCheck) run(_ context.Context, in *evalInput) ([]Issue, error) {
	err := c.schema.Validate(in.crate.Document)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, err
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	msg := c.message
	if msg == "" {
		msg = leaf.Message
	} else if leaf.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, leaf.Message)
	}
	return []Issue{c.issue(msg, leaf.InstanceLocation)}, nil
}

type celCheck struct {
	baseCheck
	prg     cel.Program
	forEach string
}

func compileCELCheck(env *cel.Env, base baseCheck, expr, forEach string) (check, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("check %s: compile: %w", base.id, issues.Err())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(100000),
	)
	if err != nil {
		return nil, fmt.Errorf("check %s: program: %w", base.id, err)
	}
	return celCheck{baseCheck: base, prg: prg, forEach: forEach}, nil
}

func (c celCheck) run(ctx context.Context, in *evalInput) ([]Issue, error) {
	if c.forEach == "" {
		ok, err := c.eval(ctx, in.vars)
		if err != nil {
			return []Issue{c.issue(fmt.Sprintf("%s (%v)", c.message, err), "")}, nil
		}
		if !ok {
			return []Issue{c.issue(c.message, "")}, nil
		}
		return nil, nil
	}

	var out []Issue
	for _, entity := range in.crate.Graph {
		if c.forEach != "*" && !crate.HasType(entity, c.forEach) {
			continue
		}
		vars := make(map[string]any, len(in.vars)+1)
		for k, v := range in.vars {
			vars[k] = v
		}
		vars["entity"] = entity
		id, _ := entity["@id"].(string)

		ok, err := c.eval(ctx, vars)
		switch {
		case err != nil:
			out = append(out, c.issue(fmt.Sprintf("%s (%v)", c.message, err), id))
		case !ok:
			out = append(out, c.issue(c.message, id))
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
	}
	return out, nil
}

func (c celCheck) eval(ctx context.Context, vars map[string]any) (bool, error) {
	val, _, err := c.prg.ContextEval(ctx, vars)
	if err != nil {
		return false, err
	}
	b, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result is %T, not bool", val.Value())
	}
	return b, nil
}

// filesPresentCheck requires every local data entity to exist in the crate
// directory. It does not apply to metadata-only crates.
type filesPresentCheck struct {
	baseCheck
}

func (c filesPresentCheck) run(_ context.Context, in *evalInput) ([]Issue, error) {
	root := in.crate.Root
	if root == "" {
		return nil, nil
	}

	var out []Issue
	for _, entity := range in.crate.Graph {
		isFile := crate.HasType(entity, "File")
		isDir := crate.HasType(entity, "Dataset")
		if !isFile && !isDir {
			continue
		}
		id, _ := entity["@id"].(string)
		rel, ok := localPath(id)
		if !ok {
			continue
		}

		info, err := os.Stat(filepath.Join(root, rel))
		switch {
		case err != nil:
			out = append(out, c.issue(fmt.Sprintf("%s: %s is missing", c.message, id), id))
		case isFile && info.IsDir():
			out = append(out, c.issue(fmt.Sprintf("%s: %s is a directory", c.message, id), id))
		case isDir && !isFile && !info.IsDir():
			out = append(out, c.issue(fmt.Sprintf("%s: %s is not a directory", c.message, id), id))
		}
	}
	return out, nil
}

// localPath maps an entity id to a path relative to the crate root. Absolute
// URIs, fragments and the root itself are not local payload.
func localPath(id string) (string, bool) {
	if id == "" || id == "./" || strings.HasPrefix(id, "#") {
		return "", false
	}
	u, err := url.Parse(id)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "", false
	}
	p, err := url.PathUnescape(u.Path)
	if err != nil {
		return "", false
	}
	p = filepath.Clean(filepath.FromSlash(strings.TrimPrefix(p, "./")))
	if p == "." || p == crate.MetadataFile || filepath.IsAbs(p) || strings.HasPrefix(p, "..") {
		return "", false
	}
	return p, true
}
