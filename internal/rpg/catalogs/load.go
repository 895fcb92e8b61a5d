package catalogs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Load reads every catalog file under configDir and validates each against
// its JSON Schema in configDir/schemas when one exists. Missing catalog
// files are an error; missing schemas are not (content repos may omit them).
func Load(configDir string) (*Catalogs, error) {
	c := &Catalogs{}

	var mobs []MobDef
	raw, err := loadValidated(configDir, "mobs.json", &mobs)
	if err != nil {
		return nil, err
	}
	c.Mobs = MobCatalog{ByID: map[string]MobDef{}, Digest: digestOf(raw)}
	for _, m := range mobs {
		if m.ID == "" {
			return nil, fmt.Errorf("mobs.json: mob with empty id")
		}
		c.Mobs.ByID[m.ID] = m
	}

	var items []ItemDef
	raw, err = loadValidated(configDir, "items.json", &items)
	if err != nil {
		return nil, err
	}
	c.Items = ItemCatalog{ByID: map[string]ItemDef{}, Digest: digestOf(raw)}
	for _, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("items.json: item with empty id")
		}
		c.Items.ByID[it.ID] = it
	}

	var recipes []RecipeDef
	raw, err = loadValidated(configDir, "recipes.json", &recipes)
	if err != nil {
		return nil, err
	}
	c.Recipes = RecipeCatalog{ByID: map[string]RecipeDef{}, Digest: digestOf(raw)}
	for _, r := range recipes {
		if r.ID == "" {
			return nil, fmt.Errorf("recipes.json: recipe with empty id")
		}
		c.Recipes.ByID[r.ID] = r
	}

	var resources []ResourceDef
	raw, err = loadValidated(configDir, "resources.json", &resources)
	if err != nil {
		return nil, err
	}
	c.Resources = ResourceCatalog{ByID: map[string]ResourceDef{}, Digest: digestOf(raw)}
	for _, r := range resources {
		if r.ID == "" {
			return nil, fmt.Errorf("resources.json: resource with empty id")
		}
		c.Resources.ByID[r.ID] = r
	}

	var locations []LocationDef
	raw, err = loadValidated(configDir, "locations.json", &locations)
	if err != nil {
		return nil, err
	}
	c.Locations = LocationCatalog{ByID: map[string]LocationDef{}, Digest: digestOf(raw)}
	for _, l := range locations {
		if l.ID == "" {
			return nil, fmt.Errorf("locations.json: location with empty id")
		}
		c.Locations.ByID[l.ID] = l
	}

	var skills []SkillDef
	raw, err = loadValidated(configDir, "skills.json", &skills)
	if err != nil {
		return nil, err
	}
	c.Skills = SkillCatalog{ByID: map[string]SkillDef{}, Digest: digestOf(raw)}
	for _, s := range skills {
		if s.ID == "" {
			return nil, fmt.Errorf("skills.json: skill with empty id")
		}
		c.Skills.ByID[s.ID] = s
	}

	// Seed formulas are optional.
	c.Formulas = FormulaCatalog{ByName: map[string]FormulaDef{}}
	var formulas []FormulaDef
	raw, err = loadValidated(configDir, "formulas.json", &formulas)
	if err == nil {
		c.Formulas.Digest = digestOf(raw)
		for _, f := range formulas {
			if f.Name == "" || f.Expr == "" {
				return nil, fmt.Errorf("formulas.json: entry missing name or expr")
			}
			c.Formulas.ByName[f.Name] = f
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return c, nil
}

func loadValidated(configDir, name string, out any) ([]byte, error) {
	raw, err := readCatalogFile(configDir, name, out)
	if err != nil {
		return nil, err
	}

	schemaPath := filepath.Join(configDir, "schemas", name)
	if _, serr := os.Stat(schemaPath); serr != nil {
		return raw, nil
	}
	sch, err := jsonschema.Compile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := sch.Validate(v); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return raw, nil
}
