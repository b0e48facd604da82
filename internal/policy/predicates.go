package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/emulators-codelab/pkg/docstore"
)

type predicate struct {
	name string
	args []string
	eval func(ctx context.Context, env *evalEnv, args []string) (bool, error)
}

func (p predicate) String() string {
	if len(p.args) == 0 {
		return p.name
	}
	return fmt.Sprintf("%s(%s)", p.name, strings.Join(p.args, ", "))
}

var predicates = map[string]struct {
	minArgs int
	maxArgs int
	eval    func(ctx context.Context, env *evalEnv, args []string) (bool, error)
}{
	"public":         {0, 0, func(context.Context, *evalEnv, []string) (bool, error) { return true, nil }},
	"signed_in":      {0, 0, evalSignedIn},
	"resource_owner": {0, 0, evalResourceOwner},
	"request_owner":  {0, 0, evalRequestOwner},
	"parent_owner":   {0, 0, evalParentOwner},
	"missing":        {0, 0, evalMissing},
	"param_is_uid":   {1, 1, evalParamIsUID},
	"unchanged":      {1, -1, evalUnchanged},
	"absent":         {1, -1, evalAbsent},
}

func parsePredicate(expr string) (predicate, error) {
	expr = strings.TrimSpace(expr)
	name := expr
	var args []string
	if open := strings.Index(expr, "("); open >= 0 {
		if !strings.HasSuffix(expr, ")") {
			return predicate{}, fmt.Errorf("predicate %q: missing closing parenthesis", expr)
		}
		name = strings.TrimSpace(expr[:open])
		for _, a := range strings.Split(expr[open+1:len(expr)-1], ",") {
			if a = strings.TrimSpace(a); a != "" {
				args = append(args, a)
			}
		}
	}
	def, ok := predicates[name]
	if !ok {
		return predicate{}, fmt.Errorf("unknown predicate %q", name)
	}
	if len(args) < def.minArgs || (def.maxArgs >= 0 && len(args) > def.maxArgs) {
		return predicate{}, fmt.Errorf("predicate %q: wrong number of arguments", expr)
	}
	return predicate{name: name, args: args, eval: def.eval}, nil
}

type evalEnv struct {
	engine *Engine
	req    Request
	params map[string]string
	fetch  Fetcher
}

// all reports whether every predicate holds, and names the first that did not.
func (e *evalEnv) all(ctx context.Context, preds []predicate) (bool, string, error) {
	for _, p := range preds {
		ok, err := p.eval(ctx, e, p.args)
		if err != nil {
			return false, p.String(), err
		}
		if !ok {
			return false, p.String(), nil
		}
	}
	return true, "", nil
}

func (e *evalEnv) uid() string {
	if !e.req.Identity.SignedIn() {
		return ""
	}
	return strings.TrimSpace(e.req.Identity.UID)
}

func evalSignedIn(_ context.Context, env *evalEnv, _ []string) (bool, error) {
	return env.uid() != "", nil
}

func evalResourceOwner(_ context.Context, env *evalEnv, _ []string) (bool, error) {
	uid := env.uid()
	return uid != "" && env.req.Resource.String(env.engine.ownerField) == uid, nil
}

func evalRequestOwner(_ context.Context, env *evalEnv, _ []string) (bool, error) {
	uid := env.uid()
	owner, _ := env.req.Data[env.engine.ownerField].(string)
	return uid != "" && owner == uid, nil
}

// evalParentOwner checks the owner field of the document that holds the
// collection the requested document lives in.
func evalParentOwner(ctx context.Context, env *evalEnv, _ []string) (bool, error) {
	uid := env.uid()
	if uid == "" {
		return false, nil
	}
	parent := docstore.Parent(docstore.Parent(env.req.Path))
	if parent == "" || env.fetch == nil {
		return false, nil
	}
	doc, err := env.fetch(ctx, parent)
	if err != nil {
		return false, fmt.Errorf("load parent %s: %w", parent, err)
	}
	return doc.String(env.engine.ownerField) == uid, nil
}

func evalMissing(_ context.Context, env *evalEnv, _ []string) (bool, error) {
	return env.req.Resource == nil || !env.req.Resource.Exists, nil
}

func evalParamIsUID(_ context.Context, env *evalEnv, args []string) (bool, error) {
	uid := env.uid()
	return uid != "" && env.params[args[0]] == uid, nil
}

// evalUnchanged holds when each field has the same value (or is absent on
// both sides) before and after the write.
func evalUnchanged(_ context.Context, env *evalEnv, args []string) (bool, error) {
	for _, field := range args {
		before, hadBefore := env.req.Resource.Field(field)
		after, hasAfter := env.req.Data[field]
		if hadBefore != hasAfter || !docstore.Equal(before, after) {
			return false, nil
		}
	}
	return true, nil
}

func evalAbsent(_ context.Context, env *evalEnv, args []string) (bool, error) {
	for _, field := range args {
		if _, ok := env.req.Data[field]; ok {
			return false, nil
		}
	}
	return true, nil
}
