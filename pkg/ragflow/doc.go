/*
Package ragflow orchestrates retrieval-augmented question answering as a
small state machine of cooperating stages.

# Overview

A run moves through four stages:

  - Router asks the language model whether the query needs the knowledge base.
  - Retriever fetches ranked fragments for the original query.
  - Evaluator asks the model whether those fragments are enough.
  - Synthesizer writes the answer from the top fragments.

Router and Evaluator are branch points. A direct route skips retrieval; an
insufficient evaluation loops back to the Retriever until the iteration
limit forces a response. The complete graph is the table behind Transition.

# Basic Usage

	client := llm.NewOllamaClient(llm.WithOllamaModel("llama3"))
	search := ragflow.RetrieverFunc(func(ctx context.Context, q string) ([]ragflow.SearchResult, error) {
	    return index.Search(ctx, q)
	})

	engine, err := ragflow.New(client, search, ragflow.WithMaxIterations(3))
	if err != nil {
	    log.Fatal(err)
	}

	res, err := engine.Execute(ctx, "What is our refund policy?")
	if err != nil {
	    log.Fatal(err)
	}
	fmt.Println(res.Answer)

# Decisions

Router and evaluator replies are parsed according to a DecisionPolicy.
PolicyLenient (the default) matches keywords and never fails: a router
reply containing "direct" skips retrieval, and an evaluator reply
containing both "sufficient" and "true" moves to synthesis. PolicyStructured
accepts a JSON object or key: value pairs and fails the run with a
*DecisionError when the decision field is missing or invalid.

Reaching the iteration limit always moves to synthesis, regardless of what
the evaluator replied. This is recorded in Result.Metadata under
"forced_termination" and is not an error.

# Error Handling

Dependency failures are wrapped once in *StageError and can be inspected
with errors.Is and errors.As:

	res, err := engine.Execute(ctx, query)
	var stageErr *ragflow.StageError
	if errors.As(err, &stageErr) {
	    log.Printf("stage %s failed: %v", stageErr.Stage, stageErr.Err)
	}

Panics in a stage are recovered as *PanicError. Cancellation between stages
returns *CancellationError wrapping the context's cause.

# Observability

WithLogger, WithMetrics, and WithTracing enable structured logs, OpenTelemetry
metrics, and spans. Each stage gets a child span named "ragflow.stage.<name>".

# Thread Safety

An Engine is immutable after New and may serve concurrent Execute calls.
Each call owns its own WorkflowState.
*/
package ragflow
