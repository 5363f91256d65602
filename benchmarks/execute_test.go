package benchmarks

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/randalmurphal/ragflow/pkg/ragflow"
	"github.com/randalmurphal/ragflow/pkg/ragflow/llm"
)

// staticRetriever returns the same fragments for every query.
func staticRetriever(n int) ragflow.Retriever {
	results := make([]ragflow.SearchResult, n)
	for i := range results {
		results[i] = ragflow.SearchResult{
			ChunkID: fmt.Sprintf("chunk-%d", i),
			Content: strings.Repeat("retrieval augmented generation ", 20),
			Score:   1 - float64(i)/float64(n+1),
		}
	}
	return ragflow.RetrieverFunc(func(context.Context, string) ([]ragflow.SearchResult, error) {
		return results, nil
	})
}

// scripted replies by stage so the engine never waits on a real model.
func scripted(route, evaluation string) *llm.MockClient {
	return llm.NewMockClient("").WithCompleteFunc(func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		switch {
		case strings.Contains(req.SystemPrompt, "routing agent"):
			return &llm.CompletionResponse{Content: route}, nil
		case strings.Contains(req.SystemPrompt, "evaluation agent"):
			return &llm.CompletionResponse{Content: evaluation}, nil
		default:
			return &llm.CompletionResponse{Content: "answer"}, nil
		}
	})
}

func mustEngine(b *testing.B, client llm.Client, r ragflow.Retriever, opts ...ragflow.Option) *ragflow.Engine {
	b.Helper()
	engine, err := ragflow.New(client, r, opts...)
	if err != nil {
		b.Fatal(err)
	}
	return engine
}

func runEngine(b *testing.B, engine *ragflow.Engine) {
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Execute(ctx, "What is retrieval augmented generation?"); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkExecute_Direct measures a run that skips retrieval.
func BenchmarkExecute_Direct(b *testing.B) {
	runEngine(b, mustEngine(b, scripted("route: direct", "sufficient: true"), staticRetriever(5)))
}

// BenchmarkExecute_SinglePass measures one retrieval and evaluation.
func BenchmarkExecute_SinglePass(b *testing.B) {
	runEngine(b, mustEngine(b, scripted("route: query", "sufficient: true"), staticRetriever(5)))
}

// BenchmarkExecute_JSONReplies measures decision parsing of JSON replies.
func BenchmarkExecute_JSONReplies(b *testing.B) {
	runEngine(b, mustEngine(b,
		scripted(`{"route": "query", "reasoning": "x"}`, "```json\n{\"sufficient\": true}\n```"),
		staticRetriever(5), ragflow.WithDecisionPolicy(ragflow.PolicyStructured)))
}

// BenchmarkExecute_Refine_3 measures a run forced to stop after 3 passes.
func BenchmarkExecute_Refine_3(b *testing.B) {
	runEngine(b, mustEngine(b, scripted("route: query", "sufficient: false"), staticRetriever(5),
		ragflow.WithMaxIterations(3)))
}

// BenchmarkExecute_Refine_10 measures a run forced to stop after 10 passes.
func BenchmarkExecute_Refine_10(b *testing.B) {
	runEngine(b, mustEngine(b, scripted("route: query", "sufficient: false"), staticRetriever(5),
		ragflow.WithMaxIterations(10)))
}

// BenchmarkExecute_Refine_10_MessageLimit bounds the message log during refinement.
func BenchmarkExecute_Refine_10_MessageLimit(b *testing.B) {
	runEngine(b, mustEngine(b, scripted("route: query", "sufficient: false"), staticRetriever(5),
		ragflow.WithMaxIterations(10), ragflow.WithMessageLogLimit(4)))
}

// BenchmarkExecute_Lenient measures keyword decisions on free-form replies.
func BenchmarkExecute_Lenient(b *testing.B) {
	runEngine(b, mustEngine(b, scripted("search the knowledge base", "results are sufficient: true"), staticRetriever(5)))
}

// BenchmarkExecute_Parallel measures concurrent runs sharing one engine.
func BenchmarkExecute_Parallel(b *testing.B) {
	engine := mustEngine(b, scripted("route: query", "sufficient: true"), staticRetriever(5))
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			if _, err := engine.Execute(ctx, "parallel question"); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// BenchmarkContextCreation measures context creation overhead.
func BenchmarkContextCreation(b *testing.B) {
	bg := context.Background()
	for i := 0; i < b.N; i++ {
		ragflow.NewContext(bg, ragflow.WithContextRunID("bench"))
	}
}

// BenchmarkTransition measures a full lookup pass over the stage graph.
func BenchmarkTransition(b *testing.B) {
	steps := []struct {
		from ragflow.Stage
		d    ragflow.Decision
	}{
		{ragflow.StageRouter, ragflow.DecisionRetrieve},
		{ragflow.StageRetriever, ragflow.DecisionNone},
		{ragflow.StageEvaluator, ragflow.DecisionRefine},
		{ragflow.StageEvaluator, ragflow.DecisionRespond},
		{ragflow.StageSynthesizer, ragflow.DecisionNone},
	}
	for i := 0; i < b.N; i++ {
		for _, s := range steps {
			_, _ = ragflow.Transition(s.from, s.d)
		}
	}
}
