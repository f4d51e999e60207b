package schema

// Builtin returns the registry for the brewing record keeper: one
// transactional collection (brews) referencing four lookup collections.
// Equipment-level lookups (grinders, methods) rank smart defaults over a
// 7-day horizon weighted 60/40 frequency/recency; product-level lookups
// (beans, roasters) use 30 days weighted 70/30.
func Builtin() *Registry {
	reg := NewRegistry()

	reg.Register(New("brews",
		Field{Name: "method_id", Type: TypeInt, Required: true},
		Field{Name: "grinder_id", Type: TypeInt},
		Field{Name: "bean_id", Type: TypeInt},
		Field{Name: "roaster_id", Type: TypeInt},
		Field{Name: "grind_setting", Type: TypeString},
		Field{Name: "coffee_grams", Type: TypeFloat, Min: f(0)},
		Field{Name: "water_grams", Type: TypeFloat, Min: f(0)},
		Field{Name: "water_temp_c", Type: TypeFloat, Min: f(0), Max: f(100)},
		Field{Name: "rating", Type: TypeInt, Min: f(0), Max: f(5)},
		Field{Name: "brewed_at", Type: TypeTime},
		Field{Name: "notes", Type: TypeString},
	))

	reg.Register(New("grinders",
		Field{Name: "name", Type: TypeString, Required: true},
		Field{Name: "short_form", Type: TypeString},
		Field{Name: "burr_type", Type: TypeString, Enum: []string{"flat", "conical", "blade"}},
		Field{Name: "notes", Type: TypeString},
	))

	reg.Register(New("methods",
		Field{Name: "name", Type: TypeString, Required: true},
		Field{Name: "short_form", Type: TypeString},
		Field{Name: "style", Type: TypeString, Enum: []string{"immersion", "percolation", "espresso"}},
		Field{Name: "notes", Type: TypeString},
	))

	reg.Register(New("beans",
		Field{Name: "name", Type: TypeString, Required: true},
		Field{Name: "short_form", Type: TypeString},
		Field{Name: "roaster_id", Type: TypeInt},
		Field{Name: "roast_level", Type: TypeString, Enum: []string{"light", "medium", "dark"}},
		Field{Name: "origin", Type: TypeString},
		Field{Name: "notes", Type: TypeString},
	))

	reg.Register(New("roasters",
		Field{Name: "name", Type: TypeString, Required: true},
		Field{Name: "short_form", Type: TypeString},
		Field{Name: "city", Type: TypeString},
		Field{Name: "website", Type: TypeString},
		Field{Name: "notes", Type: TypeString},
	))

	reg.RegisterLookup(LookupConfig{
		Entity: "grinders", UsageEntity: "brews", UsageField: "grinder_id",
		HorizonDays: 7, FrequencyWeight: 0.6, RecencyWeight: 0.4,
	})
	reg.RegisterLookup(LookupConfig{
		Entity: "methods", UsageEntity: "brews", UsageField: "method_id",
		HorizonDays: 7, FrequencyWeight: 0.6, RecencyWeight: 0.4,
	})
	reg.RegisterLookup(LookupConfig{
		Entity: "beans", UsageEntity: "brews", UsageField: "bean_id",
		HorizonDays: 30, FrequencyWeight: 0.7, RecencyWeight: 0.3,
	})
	reg.RegisterLookup(LookupConfig{
		Entity: "roasters", UsageEntity: "brews", UsageField: "roaster_id",
		HorizonDays: 30, FrequencyWeight: 0.7, RecencyWeight: 0.3,
	})

	return reg
}

func f(v float64) *float64 { return &v }
