package scenario

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"terrarium.sim/internal/simerr"
)

var compileOnce = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("scenario.schema.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile("scenario.schema.json")
})

func validateSchema(doc any) error {
	sch, err := compileOnce()
	if err != nil {
		return fmt.Errorf("%w: compile scenario schema: %v", simerr.ErrConfig, err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: scenario schema: %v", simerr.ErrConfig, err)
	}
	return nil
}

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["world", "randomness", "fields"],
  "properties": {
    "world": {
      "type": "object",
      "required": ["width", "height"],
      "properties": {
        "width": {"type": "integer", "minimum": 1},
        "height": {"type": "integer", "minimum": 1},
        "wrap": {
          "type": "object",
          "properties": {
            "x": {"type": "boolean"},
            "y": {"type": "boolean"}
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    },
    "randomness": {
      "type": "object",
      "required": ["seed"],
      "properties": {
        "seed": {"type": "integer"}
      },
      "additionalProperties": false
    },
    "fields": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "bounds"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "bounds": {
            "type": "array",
            "items": {"type": "number"},
            "minItems": 2,
            "maxItems": 2
          },
          "derived": {"type": "boolean"},
          "coeffs": {
            "type": "object",
            "properties": {
              "diffusion": {"type": "number"},
              "advection": {
                "type": "object",
                "properties": {
                  "vx": {"type": "number"},
                  "vy": {"type": "number"}
                },
                "additionalProperties": false
              },
              "decay": {"type": "number"},
              "replenish": {"type": "number"},
              "couples": {"type": "array", "items": {"type": "string"}}
            },
            "additionalProperties": false
          }
        },
        "additionalProperties": false
      }
    },
    "water_profile": {
      "type": "object",
      "properties": {
        "octaves": {"type": "integer", "minimum": 1},
        "elevation_scale": {"type": "number"},
        "ridge_strength": {"type": "number"},
        "precipitation_scale": {"type": "number"},
        "river_percentile": {"type": "number"},
        "lake_fill_threshold": {"type": "number"},
        "base_moisture": {"type": "number"},
        "river_depth": {"type": "number"},
        "lake_depth": {"type": "number"},
        "evaporation": {"type": "number"}
      },
      "additionalProperties": false
    },
    "heat_profile": {
      "type": "object",
      "properties": {
        "hot_edge": {"enum": ["north", "south", "equator"]},
        "amplitude": {"type": "number"},
        "noise_amp": {"type": "number"}
      },
      "additionalProperties": false
    },
    "vegetation_profile": {
      "type": "object",
      "properties": {
        "k": {"type": "number"},
        "water_half": {"type": "number"},
        "heat_optimum": {"type": "number"},
        "heat_sigma": {"type": "number"},
        "carrying_capacity": {"type": "number"}
      },
      "additionalProperties": false
    },
    "dynamics": {
      "type": "object",
      "properties": {
        "passes": {"type": "array", "items": {"type": "string"}},
        "boundary": {"enum": ["wrap", "clamp"]}
      },
      "additionalProperties": false
    },
    "outputs": {
      "type": "object",
      "properties": {
        "checkpoint_every": {"type": "integer", "minimum": 1},
        "metrics_cadence": {"type": "integer", "minimum": 1}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`
