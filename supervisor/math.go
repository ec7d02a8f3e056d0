/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package supervisor

import (
	"fmt"
	"math"
	"slices"

	"github.com/Knetic/govaluate"
	"github.com/eclesh/welford"
)

// WindowHelp is a help message used by flags in main
const WindowHelp = `When composing the window formula, here is what you can do:
supported operations:
  evaluation is done with govaluate, please check https://github.com/Knetic/govaluate/blob/master/MANUAL.md
supported variables:
  drift (list of last observed drifts, newest first, in ns)
  driftabs (list of last observed drifts, abs values)
  factorchange (list of last relative changes of conversion factor, in PPB)
supported functions:
  abs(value) - absolute value of single float64, for example abs(-1) = 1
  max(values, number) - max of 'number' newest values
  mean(values, number) - mean of list of 'number' values, for example mean(drift, 10) will take 10 newest drifts and return mean for those values
  variance(values, number) - variance of list of 'number' values
  stddev(values, number) - standard deviation of list of 'number' values
When there are fewer values than requested, all available values are used.`

const (
	// DefaultHistory is a default number of drift reports to keep
	DefaultHistory = 100
	// DefaultWindow is a default formula to calculate uncertainty window
	DefaultWindow = "abs(mean(drift, 10)) + 3.0 * stddev(drift, 10)"
)

// Window is uncertainty window expression in two forms: string and parsed
type Window struct {
	Expr string
	expr *govaluate.EvaluableExpression
}

// NewWindow parses window expression
func NewWindow(expr string) (*Window, error) {
	w := &Window{Expr: expr}
	if err := w.Prepare(); err != nil {
		return nil, err
	}
	return w, nil
}

// Prepare parses the expression
func (w *Window) Prepare() error {
	var err error
	w.expr, err = prepareExpression(w.Expr)
	if err != nil {
		return fmt.Errorf("evaluating window %q: %w", w.Expr, err)
	}
	return nil
}

// Evaluate computes the window in ns from drift history. Empty history gives zero window.
func (w *Window) Evaluate(params map[string][]float64) (float64, error) {
	if len(params["drift"]) == 0 {
		return 0, nil
	}
	raw, err := w.expr.Evaluate(mapOfInterface(params))
	if err != nil {
		return 0, err
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("window expression returned %T, not a number", raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("window expression returned %v", v)
	}
	return math.Max(0, v), nil
}

func mean(input []float64) float64 {
	if len(input) == 0 {
		return 0
	}
	s := welford.New()
	for _, v := range input {
		s.Add(v)
	}
	return s.Mean()
}

// sample variance, zero for less than two values
func variance(input []float64) float64 {
	if len(input) < 2 {
		return 0
	}
	s := welford.New()
	for _, v := range input {
		s.Add(v)
	}
	return s.Variance()
}

func stddev(input []float64) float64 {
	if len(input) < 2 {
		return 0
	}
	s := welford.New()
	for _, v := range input {
		s.Add(v)
	}
	return s.Stddev()
}

var supportedVariables = []string{
	"drift",
	"driftabs",
	"factorchange",
}

func isSupportedVar(varName string) bool {
	return slices.Contains(supportedVariables, varName)
}

func listArgs(name string, args []interface{}) ([]float64, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%s: wrong number of arguments: want 2, got %d", name, len(args))
	}
	vals, ok := args[0].([]float64)
	if !ok {
		return nil, fmt.Errorf("%s: first argument must be a list", name)
	}
	n, ok := args[1].(float64)
	if !ok || n < 1 {
		return nil, fmt.Errorf("%s: second argument must be a positive number", name)
	}
	if len(vals) < int(n) {
		return vals, nil
	}
	return vals[:int(n)], nil
}

// all the functions we support in expressions
var functions = map[string]govaluate.ExpressionFunction{
	"abs": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("abs: wrong number of arguments: want 1, got %d", len(args))
		}
		val, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("abs: argument must be a number")
		}
		return math.Abs(val), nil
	},
	"max": func(args ...interface{}) (interface{}, error) {
		vals, err := listArgs("max", args)
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			return 0.0, nil
		}
		return slices.Max(vals), nil
	},
	"mean": func(args ...interface{}) (interface{}, error) {
		vals, err := listArgs("mean", args)
		if err != nil {
			return nil, err
		}
		return mean(vals), nil
	},
	"variance": func(args ...interface{}) (interface{}, error) {
		vals, err := listArgs("variance", args)
		if err != nil {
			return nil, err
		}
		return variance(vals), nil
	},
	"stddev": func(args ...interface{}) (interface{}, error) {
		vals, err := listArgs("stddev", args)
		if err != nil {
			return nil, err
		}
		return stddev(vals), nil
	},
}

func prepareExpression(exprStr string) (*govaluate.EvaluableExpression, error) {
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(exprStr, functions)
	if err != nil {
		return nil, err
	}
	for _, v := range expr.Vars() {
		if !isSupportedVar(v) {
			return nil, fmt.Errorf("unsupported variable %q", v)
		}
	}
	return expr, nil
}

func prepareWindowParameters(reports []historyEntry) map[string][]float64 {
	size := len(reports)
	drifts := make([]float64, size)
	driftsAbs := make([]float64, size)
	factorChanges := make([]float64, size)
	for i, r := range reports {
		drifts[i] = float64(r.driftNS)
		driftsAbs[i] = math.Abs(float64(r.driftNS))
		factorChanges[i] = r.factorChangePPB
	}
	return map[string][]float64{
		"drift":        drifts,
		"driftabs":     driftsAbs,
		"factorchange": factorChanges,
	}
}

func mapOfInterface(m map[string][]float64) map[string]interface{} {
	mm := make(map[string]interface{}, len(m))
	for k, v := range m {
		mm[k] = v
	}
	return mm
}
