package executor

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// IOValue is one named input or output slot of a step's io mapping.
type IOValue struct {
	Value any `json:"value"`
}

// IOMapping binds a step's template placeholders to concrete values and
// receives extracted outputs after an API call.
type IOMapping struct {
	Inputs  map[string]IOValue  `json:"inputs,omitempty"`
	Outputs map[string]*IOValue `json:"outputs,omitempty"`
}

var templateToken = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
var nanoidSeeded = regexp.MustCompile(`^nanoid\(\s*([^()]+?)\s*\)$`)

// Resolver resolves template placeholders inside step parameters:
// {{input.NAME}}, {{userLanguage}}, {{userLanguages}}, {{now()}},
// {{random()}}, {{nanoid()}} and {{nanoid(seed)}}. Within one Resolve
// call, every {{nanoid(seed)}} with the same seed yields the identical
// id; distinct seeds and unseeded calls yield fresh ids.
type Resolver struct {
	UserLanguages []string

	// Now is the clock used by {{now()}}; nil means time.Now.
	Now func() time.Time
}

// resolvePass is the per-call state of one resolution.
type resolvePass struct {
	r         *Resolver
	io        *IOMapping
	seedCache map[string]string
}

// Resolve walks value, resolving every template token it finds. Maps and
// slices are recursed into; non-template values pass through unchanged.
func (r *Resolver) Resolve(value any, io *IOMapping) (any, error) {
	pass := &resolvePass{r: r, io: io, seedCache: make(map[string]string)}
	return pass.resolve(value)
}

func (p *resolvePass) resolve(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return p.resolveString(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			resolved, err := p.resolve(elem)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			resolved, err := p.resolve(elem)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func (p *resolvePass) resolveString(s string) (any, error) {
	matches := templateToken.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// A string that is exactly one token keeps the token's native type
	// (a language list stays a list, a random number stays a number).
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		return p.resolveToken(s[matches[0][2]:matches[0][3]])
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		resolved, err := p.resolveToken(s[m[2]:m[3]])
		if err != nil {
			return nil, err
		}
		b.WriteString(fmt.Sprint(resolved))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func (p *resolvePass) resolveToken(token string) (any, error) {
	switch {
	case strings.HasPrefix(token, "input."):
		name := strings.TrimPrefix(token, "input.")
		if p.io != nil {
			if v, ok := p.io.Inputs[name]; ok {
				return v.Value, nil
			}
		}
		return nil, fmt.Errorf("input %q not found in ioMapping", name)

	case token == "userLanguage":
		if len(p.r.UserLanguages) > 0 {
			return p.r.UserLanguages[0], nil
		}
		return "", nil

	case token == "userLanguages":
		return p.r.UserLanguages, nil

	case token == "now()":
		now := time.Now
		if p.r.Now != nil {
			now = p.r.Now
		}
		return now().Format(time.RFC3339), nil

	case token == "random()":
		return rand.Float64(), nil

	case token == "nanoid()":
		id, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("nanoid generation failed: %w", err)
		}
		return id, nil

	default:
		if m := nanoidSeeded.FindStringSubmatch(token); m != nil {
			seed := m[1]
			if id, ok := p.seedCache[seed]; ok {
				return id, nil
			}
			id, err := gonanoid.New()
			if err != nil {
				return nil, fmt.Errorf("nanoid generation failed: %w", err)
			}
			p.seedCache[seed] = id
			return id, nil
		}
		// Unknown tokens pass through as literal text.
		return "{{" + token + "}}", nil
	}
}
