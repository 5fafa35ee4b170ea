package main

import (
	"context"
	"fmt"

	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/core"
	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/worker"
	"github.com/shpitdev/price-sheet-tracker/test/template/processor"
)

func main() {
	p := processor.Processor{}
	runner := core.ProcessFunc[string, processor.Result](p.Process)

	out, err := worker.ProcessAll(context.Background(), []string{"£1,299.99"}, runner.Process, worker.Options{Workers: 1})
	if err != nil {
		panic(err)
	}
	fmt.Println(out[0].Output.Output)
}
