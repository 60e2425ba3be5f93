package execctx

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

func genEnhanced() *rapid.Generator[*Enhanced] {
	return rapid.Custom(func(t *rapid.T) *Enhanced {
		ctx := CreateEmpty()
		vars := rapid.MapOf(
			rapid.StringMatching(`[a-z]{1,8}`),
			rapid.IntRange(0, 1000).AsAny(),
		).Draw(t, "variables")
		for k, v := range vars {
			ctx.Variables[k] = v
		}
		n := rapid.IntRange(0, 5).Draw(t, "fired")
		for i := 0; i < n; i++ {
			ctx.Events.Fired = append(ctx.Events.Fired, EventInstance{
				ID:      rapid.StringMatching(`evt-[0-9]{1,4}`).Draw(t, "firedID"),
				FiredAt: time.Now(),
			})
		}
		return ctx
	})
}

func TestMerge_Properties(t *testing.T) {
	t.Run("updates win on variable conflicts", rapid.MakeCheck(func(t *rapid.T) {
		base := genEnhanced().Draw(t, "base")
		updates := genEnhanced().Draw(t, "updates")

		out := Merge(base, updates)

		for k, v := range updates.Variables {
			if out.Variables[k] != v {
				t.Fatalf("variable %q: got %v, want %v", k, out.Variables[k], v)
			}
		}
		for k, v := range base.Variables {
			if _, overridden := updates.Variables[k]; !overridden && out.Variables[k] != v {
				t.Fatalf("variable %q lost: got %v, want %v", k, out.Variables[k], v)
			}
		}
	}))

	t.Run("fired history appends in order", rapid.MakeCheck(func(t *rapid.T) {
		base := genEnhanced().Draw(t, "base")
		updates := genEnhanced().Draw(t, "updates")

		out := Merge(base, updates)

		if len(out.Events.Fired) != len(base.Events.Fired)+len(updates.Events.Fired) {
			t.Fatalf("fired length: got %d, want %d",
				len(out.Events.Fired), len(base.Events.Fired)+len(updates.Events.Fired))
		}
		for i, e := range base.Events.Fired {
			if out.Events.Fired[i].ID != e.ID {
				t.Fatalf("fired[%d] reordered", i)
			}
		}
	}))

	t.Run("empty updates preserve history and variables", rapid.MakeCheck(func(t *rapid.T) {
		base := genEnhanced().Draw(t, "base")

		out := Merge(base, CreateEmpty())

		if len(out.Events.Fired) != len(base.Events.Fired) {
			t.Fatalf("fired changed: got %d, want %d", len(out.Events.Fired), len(base.Events.Fired))
		}
		if len(out.Variables) != len(base.Variables) {
			t.Fatalf("variables changed: got %d, want %d", len(out.Variables), len(base.Variables))
		}
	}))

	t.Run("enhance is idempotent on the wrapped form", rapid.MakeCheck(func(t *rapid.T) {
		vars := rapid.MapOf(
			rapid.StringMatching(`[a-z]{1,8}`),
			rapid.StringMatching(`[a-z0-9]{0,6}`).AsAny(),
		).Draw(t, "vars")

		once := Enhance(vars)
		twice := Enhance(Simplify(once))

		if len(twice.Variables) != len(once.Variables) {
			t.Fatalf("variables changed on re-enhance: %d vs %d",
				len(twice.Variables), len(once.Variables))
		}
		for k, v := range once.Variables {
			if twice.Variables[k] != v {
				t.Fatalf("variable %q changed on re-enhance", k)
			}
		}
	}))
}
