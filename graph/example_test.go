/*
 *	Copyright 2024 The GradNet Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package graph_test

import (
	"fmt"

	"github.com/janpfeifer/must"

	"github.com/gradnet/gradnet/graph"
)

// Differentiate a one-operator graph with an auto-generated seed gradient.
func ExampleRegistry_BackwardPass() {
	registry := graph.NewRegistry()
	forward := []*graph.OpDef{
		graph.NewOp("Mul", []graph.Blob{"A", "B"}, []graph.Blob{"Y"}),
	}
	gradientOps, grads := must.M2(registry.BackwardPass(forward, graph.Targets("Y")))
	for _, op := range gradientOps {
		fmt.Println(op)
	}
	fmt.Println(grads["A"])

	// Output:
	// ConstantFill(Y) -> (Y_autogen_grad)
	// Mul(Y_autogen_grad, B) -> (A_grad)
	// Mul(Y_autogen_grad, A) -> (B_grad)
	// A_grad
}

// Gradient rules for operator types without a native rule are registered per
// Registry; there is no process-global state.
func ExampleRegistry_Register() {
	registry := graph.NewRegistry()
	registry.Register("Square", func(op *graph.OpDef, gOutput []graph.Gradient) ([]*graph.OpDef, []graph.Gradient, error) {
		x := op.Inputs[0]
		twice := graph.NewOp("Scale", []graph.Blob{gOutput[0].Dense()}, []graph.Blob{"twice_g"},
			graph.WithAttr("scale", 2.0))
		gradOp := graph.NewOp("Mul", []graph.Blob{"twice_g", x}, []graph.Blob{graph.GradientName(x)})
		return []*graph.OpDef{twice, gradOp}, []graph.Gradient{graph.DenseGradient(gradOp.Outputs[0])}, nil
	})

	forward := []*graph.OpDef{
		graph.NewOp("Square", []graph.Blob{"X"}, []graph.Blob{"Y"}),
	}
	gradientOps, grads := must.M2(registry.BackwardPass(forward, map[graph.Blob]graph.Gradient{
		"Y": graph.DenseGradient("dY"),
	}))
	for _, op := range gradientOps {
		fmt.Println(op)
	}
	fmt.Println(grads["X"])

	// Output:
	// Scale(dY) -> (twice_g)
	// Mul(twice_g, X) -> (X_grad)
	// X_grad
}
