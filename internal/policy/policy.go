// Package policy evaluates declarative ownership rules for document access.
package policy

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/firebase/emulators-codelab/pkg/auth"
	"github.com/firebase/emulators-codelab/pkg/docstore"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

type Operation string

const (
	OpRead   Operation = "read"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"

	// opWrite is accepted in rule files as create+update+delete.
	opWrite Operation = "write"
)

type ruleFile struct {
	OwnerField string     `yaml:"owner_field"`
	Rules      []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	Match string              `yaml:"match"`
	Allow map[string][]string `yaml:"allow"`
}

type rule struct {
	match string
	allow map[Operation][]predicate
}

// Engine holds compiled rules.
type Engine struct {
	ownerField string
	rules      []rule
}

// Default compiles the embedded rule set.
func Default() (*Engine, error) {
	return Load(defaultRules)
}

// LoadFile compiles the rules in path, or the embedded set when path is empty.
func LoadFile(path string) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy rules: %w", err)
	}
	return Load(raw)
}

func Load(raw []byte) (*Engine, error) {
	var file ruleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse policy rules: %w", err)
	}
	if strings.TrimSpace(file.OwnerField) == "" {
		return nil, fmt.Errorf("policy rules: owner_field is required")
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("policy rules: no rules defined")
	}

	e := &Engine{ownerField: strings.TrimSpace(file.OwnerField)}
	for i, rs := range file.Rules {
		r, err := compileRule(rs)
		if err != nil {
			return nil, fmt.Errorf("policy rule %d (%s): %w", i, rs.Match, err)
		}
		e.rules = append(e.rules, r)
	}
	return e, nil
}

func compileRule(rs ruleSpec) (rule, error) {
	match := strings.TrimSpace(rs.Match)
	if !docstore.IsDocument(match) {
		return rule{}, fmt.Errorf("match must be a document path pattern")
	}
	r := rule{match: match, allow: map[Operation][]predicate{}}

	// sorted for deterministic errors
	ops := make([]string, 0, len(rs.Allow))
	for op := range rs.Allow {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	for _, opName := range ops {
		preds := make([]predicate, 0, len(rs.Allow[opName]))
		for _, expr := range rs.Allow[opName] {
			p, err := parsePredicate(expr)
			if err != nil {
				return rule{}, err
			}
			preds = append(preds, p)
		}
		if len(preds) == 0 {
			return rule{}, fmt.Errorf("operation %q has no predicates", opName)
		}
		switch op := Operation(strings.ToLower(strings.TrimSpace(opName))); op {
		case OpRead, OpCreate, OpUpdate, OpDelete:
			r.allow[op] = preds
		case opWrite:
			for _, w := range []Operation{OpCreate, OpUpdate, OpDelete} {
				r.allow[w] = preds
			}
		default:
			return rule{}, fmt.Errorf("unknown operation %q", opName)
		}
	}
	return r, nil
}

// Request describes one access attempt. Resource is the stored document
// (Exists=false when absent); Data is the document as it would be after a
// create or update.
type Request struct {
	Op       Operation
	Path     string
	Identity *auth.Identity
	Resource *docstore.Document
	Data     map[string]any
}

// Fetcher loads documents referenced by predicates, such as a parent cart.
type Fetcher func(ctx context.Context, path string) (*docstore.Document, error)

// Decision reports the outcome of an evaluation.
type Decision struct {
	Allowed bool
	Rule    string
	Reason  string
}

// Evaluate returns whether any matching rule grants req.
func (e *Engine) Evaluate(ctx context.Context, req Request, fetch Fetcher) (Decision, error) {
	reason := "no rule matches path"
	for _, r := range e.rules {
		params, ok := docstore.Match(r.match, req.Path)
		if !ok {
			continue
		}
		preds, ok := r.allow[req.Op]
		if !ok {
			reason = fmt.Sprintf("%s not allowed", req.Op)
			continue
		}
		env := &evalEnv{engine: e, req: req, params: params, fetch: fetch}
		allowed, failed, err := env.all(ctx, preds)
		if err != nil {
			return Decision{}, err
		}
		if allowed {
			return Decision{Allowed: true, Rule: r.match}, nil
		}
		reason = fmt.Sprintf("%s failed", failed)
	}
	return Decision{Reason: reason}, nil
}
