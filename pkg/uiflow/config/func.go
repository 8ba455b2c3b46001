package config

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-cty-funcs/crypto"
	"github.com/hashicorp/go-cty-funcs/encoding"
	"github.com/hashicorp/go-cty-funcs/filesystem"
	"github.com/hashicorp/go-cty-funcs/uuid"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/userfunc"
	"github.com/itchyny/gojq"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// GetStandardLibraryFunctions returns the cty standard library functions and
// the go-cty-funcs additions available to every expression.
func GetStandardLibraryFunctions() map[string]function.Function {
	return map[string]function.Function{
		// String functions
		"upper":     stdlib.UpperFunc,
		"lower":     stdlib.LowerFunc,
		"title":     stdlib.TitleFunc,
		"substr":    stdlib.SubstrFunc,
		"strlen":    stdlib.StrlenFunc,
		"split":     stdlib.SplitFunc,
		"join":      stdlib.JoinFunc,
		"sort":      stdlib.SortFunc,
		"reverse":   stdlib.ReverseFunc,
		"chomp":     stdlib.ChompFunc,
		"trim":      stdlib.TrimFunc,
		"trimspace": stdlib.TrimSpaceFunc,
		"replace":   stdlib.ReplaceFunc,
		"regex":     stdlib.RegexFunc,
		"format":    stdlib.FormatFunc,

		// Numeric functions
		"abs":   stdlib.AbsoluteFunc,
		"ceil":  stdlib.CeilFunc,
		"floor": stdlib.FloorFunc,
		"max":   stdlib.MaxFunc,
		"min":   stdlib.MinFunc,
		"pow":   stdlib.PowFunc,

		// Collection functions
		"element":  stdlib.ElementFunc,
		"length":   stdlib.LengthFunc,
		"coalesce": stdlib.CoalesceFunc,
		"compact":  stdlib.CompactFunc,
		"contains": stdlib.ContainsFunc,
		"distinct": stdlib.DistinctFunc,
		"flatten":  stdlib.FlattenFunc,
		"keys":     stdlib.KeysFunc,
		"values":   stdlib.ValuesFunc,
		"lookup":   stdlib.LookupFunc,
		"merge":    stdlib.MergeFunc,
		"range":    stdlib.RangeFunc,
		"slice":    stdlib.SliceFunc,
		"zipmap":   stdlib.ZipmapFunc,

		// Encoding functions
		"csvdecode":  stdlib.CSVDecodeFunc,
		"jsondecode": stdlib.JSONDecodeFunc,
		"jsonencode": stdlib.JSONEncodeFunc,

		// Type conversion functions
		"tostring": stdlib.MakeToFunc(cty.String),
		"tonumber": stdlib.MakeToFunc(cty.Number),
		"tobool":   stdlib.MakeToFunc(cty.Bool),
		"tolist":   stdlib.MakeToFunc(cty.List(cty.DynamicPseudoType)),

		// Additional functions from go-cty-funcs
		"md5":          crypto.Md5Func,
		"sha1":         crypto.Sha1Func,
		"sha256":       crypto.Sha256Func,
		"base64decode": encoding.Base64DecodeFunc,
		"base64encode": encoding.Base64EncodeFunc,
		"urlencode":    encoding.URLEncodeFunc,
		"abspath":      filesystem.AbsPathFunc,
		"basename":     filesystem.BasenameFunc,
		"dirname":      filesystem.DirnameFunc,
		"file":         filesystem.MakeFileFunc("", false),
		"pathexpand":   filesystem.PathExpandFunc,
		"uuidv4":       uuid.V4Func,
		"uuidv5":       uuid.V5Func,
	}
}

// ExtractUserFunctions decodes function blocks and returns the bodies with
// those blocks removed.
func (c *Config) ExtractUserFunctions(bodies []hcl.Body) (map[string]function.Function, []hcl.Body, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	remainingBodies := make([]hcl.Body, 0, len(bodies))
	allFuncs := make(map[string]function.Function)

	for _, body := range bodies {
		funcs, remainingBody, funcdiags := userfunc.DecodeUserFunctions(body, "function", func() *hcl.EvalContext {
			return c.evalCtx
		})
		diags = diags.Extend(funcdiags)
		if diags.HasErrors() {
			return nil, nil, diags
		}

		remainingBodies = append(remainingBodies, remainingBody)

		for name, fn := range funcs {
			if _, exists := allFuncs[name]; exists {
				diags = diags.Append(&hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Duplicate function",
					Detail:   fmt.Sprintf("Function %s is already defined", name),
				})
			}
			allFuncs[name] = fn
		}
	}

	if diags.HasErrors() {
		return nil, nil, diags
	}

	return allFuncs, remainingBodies, diags
}

func (c *Config) GetFunctions(userFuncs map[string]function.Function) (map[string]function.Function, hcl.Diagnostics) {
	funcs := GetStandardLibraryFunctions()
	diags := hcl.Diagnostics{}

	for name, fn := range GetLogFunctions(c.Logger) {
		funcs[name] = fn
	}
	funcs["jq"] = JqFunc

	for name, fn := range userFuncs {
		if _, exists := funcs[name]; exists {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate function",
				Detail:   fmt.Sprintf("Function %s is reserved and can't be overridden", name),
			})
			continue
		}
		funcs[name] = fn
	}

	return funcs, diags
}

// JqFunc runs a jq query over a value and returns the first result.
//
//	assets = jq(".cards[].name", jsondecode(file("deck.json")))
var JqFunc = function.New(&function.Spec{
	Description: "Returns the first result of a jq query applied to a value",
	Params: []function.Parameter{
		{Name: "query", Type: cty.String},
		{Name: "value", Type: cty.DynamicPseudoType},
	},
	Type: function.StaticReturnType(cty.DynamicPseudoType),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		query, err := gojq.Parse(args[0].AsString())
		if err != nil {
			return cty.NilVal, fmt.Errorf("invalid jq query: %w", err)
		}

		input, err := ctyToAny(args[1])
		if err != nil {
			return cty.NilVal, err
		}

		iter := query.Run(input)
		result, ok := iter.Next()
		if !ok {
			return cty.NullVal(cty.DynamicPseudoType), nil
		}
		if err, isErr := result.(error); isErr {
			return cty.NilVal, fmt.Errorf("jq query failed: %w", err)
		}

		return anyToCty(result)
	},
})

// GetLogFunctions returns log_debug, log_info, log_warn, log_error and
// log_msg. Each takes a message followed by an object of fields.
func GetLogFunctions(logger *zap.Logger) map[string]function.Function {
	if logger == nil {
		logger = zap.NewNop()
	}

	return map[string]function.Function{
		"log_debug": makeLogFunc(logger, zapcore.DebugLevel),
		"log_info":  makeLogFunc(logger, zapcore.InfoLevel),
		"log_warn":  makeLogFunc(logger, zapcore.WarnLevel),
		"log_error": makeLogFunc(logger, zapcore.ErrorLevel),
		"log_msg":   makeLogLevelFunc(logger),
	}
}

func makeLogFunc(logger *zap.Logger, level zapcore.Level) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "message", Type: cty.String},
		},
		VarParam: &function.Parameter{
			Name: "fields",
			Type: cty.DynamicPseudoType,
		},
		Type: function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			logger.Log(level, args[0].AsString(), logFields(args[1:])...)
			return cty.True, nil
		},
	})
}

func makeLogLevelFunc(logger *zap.Logger) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "level", Type: cty.String},
			{Name: "message", Type: cty.String},
		},
		VarParam: &function.Parameter{
			Name: "fields",
			Type: cty.DynamicPseudoType,
		},
		Type: function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			level, err := zapcore.ParseLevel(args[0].AsString())
			if err != nil {
				level = zapcore.InfoLevel
			}
			logger.Log(level, args[1].AsString(), logFields(args[2:])...)
			return cty.True, nil
		},
	})
}

// logFields uses the keys of a single object argument as field names and
// falls back to positional names ($1, $2, ...).
func logFields(args []cty.Value) []zap.Field {
	if len(args) == 1 && args[0].IsKnown() && !args[0].IsNull() &&
		(args[0].Type().IsMapType() || args[0].Type().IsObjectType()) && args[0].LengthInt() > 0 {
		fields := make([]zap.Field, 0, args[0].LengthInt())
		for it := args[0].ElementIterator(); it.Next(); {
			key, val := it.Element()
			fields = append(fields, logField(key.AsString(), val))
		}
		return fields
	}

	fields := make([]zap.Field, 0, len(args))
	for i, arg := range args {
		fields = append(fields, logField(fmt.Sprintf("$%d", i+1), arg))
	}
	return fields
}

func logField(key string, val cty.Value) zap.Field {
	switch {
	case !val.IsKnown():
		return zap.String(key, "<unknown>")
	case val.IsNull():
		return zap.String(key, "<null>")
	case val.Type() == cty.String:
		return zap.String(key, val.AsString())
	case val.Type() == cty.Bool:
		return zap.Bool(key, val.True())
	case val.Type() == cty.Number:
		bf := val.AsBigFloat()
		if i, acc := bf.Int64(); bf.IsInt() && acc == 0 {
			return zap.Int64(key, i)
		}
		f, _ := bf.Float64()
		return zap.Float64(key, f)
	}

	v, err := ctyToAny(val)
	if err != nil {
		return zap.String(key, val.GoString())
	}
	return zap.Any(key, v)
}

// ctyToAny converts a value to the plain Go shapes produced by
// encoding/json, which is what gojq operates on.
func ctyToAny(val cty.Value) (any, error) {
	raw, err := ctyjson.Marshal(val, cty.DynamicPseudoType)
	if err != nil {
		return nil, fmt.Errorf("unable to convert value: %w", err)
	}

	var wrapped struct {
		Value any `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("unable to convert value: %w", err)
	}
	return wrapped.Value, nil
}

func anyToCty(v any) (cty.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to convert result: %w", err)
	}

	ty, err := ctyjson.ImpliedType(raw)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to convert result: %w", err)
	}
	return ctyjson.Unmarshal(raw, ty)
}
