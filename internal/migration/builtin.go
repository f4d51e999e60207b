package migration

import (
	"context"
	"strings"

	"brewcore/pkg/domain"
)

// Builtin returns the registry of shipped migration edges.
func Builtin() *Registry {
	reg := NewRegistry()

	// 1.3 -> 1.4 only provisions new, empty collections, so it is safe to
	// run without a backup.
	_ = reg.Register(Migration{
		From:        "1.3",
		To:          "1.4",
		Description: "add beans and roasters collections",
		Additive:    true,
		Run: func(ctx context.Context, env Env) error {
			if err := env.EnsureCollection("beans"); err != nil {
				return err
			}
			return env.EnsureCollection("roasters")
		},
	})

	// 1.4 -> 1.5 rewrites the legacy inline roaster name on beans into a
	// roaster_id reference, creating roaster records as needed.
	_ = reg.Register(Migration{
		From:        "1.4",
		To:          "1.5",
		Description: "replace inline bean roaster names with roaster references",
		Run:         migrateBeanRoasterRefs,
	})

	return reg
}

// migrateBeanRoasterRefs is idempotent: beans already carrying roaster_id
// (or no legacy field) are left alone, and a missing beans collection in a
// freshly provisioned tenant is skipped rather than treated as a failure.
func migrateBeanRoasterRefs(ctx context.Context, env Env) error {
	beans, err := env.ReadCollection("beans")
	if err != nil {
		return err
	}
	if len(beans) == 0 {
		return nil
	}
	roasters, err := env.ReadCollection("roasters")
	if err != nil {
		return err
	}

	byName := make(map[string]int64, len(roasters))
	var maxID int64
	for _, r := range roasters {
		byName[strings.ToLower(strings.TrimSpace(r.Name()))] = r.ID()
		if r.ID() > maxID {
			maxID = r.ID()
		}
	}

	changedBeans := false
	changedRoasters := false
	for _, bean := range beans {
		legacy, ok := bean["roaster"].(string)
		if !ok || strings.TrimSpace(legacy) == "" {
			delete(bean, "roaster")
			continue
		}
		key := strings.ToLower(strings.TrimSpace(legacy))
		id, exists := byName[key]
		if !exists {
			maxID++
			id = maxID
			rec := domain.Record{
				domain.FieldID:   id,
				domain.FieldName: strings.TrimSpace(legacy),
			}
			// Carry the bean's timestamps so the new roaster predates any
			// brew referencing it.
			if created, ok := bean.CreatedAt(); ok {
				stamp := created.UTC().Format(domain.TimeLayout)
				rec[domain.FieldCreatedAt] = stamp
				rec[domain.FieldUpdatedAt] = stamp
			}
			roasters = append(roasters, rec)
			byName[key] = id
			changedRoasters = true
		}
		bean["roaster_id"] = id
		delete(bean, "roaster")
		changedBeans = true
	}

	if changedRoasters {
		if err := env.WriteCollection("roasters", roasters); err != nil {
			return err
		}
	}
	if changedBeans {
		return env.WriteCollection("beans", beans)
	}
	return nil
}
