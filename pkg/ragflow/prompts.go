package ragflow

import (
	"fmt"
	"strings"
)

const (
	// evaluatorResultLimit caps how many results the evaluator sees.
	evaluatorResultLimit = 3
	// evaluatorContentRunes caps each result excerpt shown to the evaluator.
	evaluatorContentRunes = 200
	// synthesizerSourceLimit caps how many results become answer context.
	synthesizerSourceLimit = 5
)

const routerSystemPrompt = `You are a routing agent. Analyze the user's query and determine:
1. Does it require searching a knowledge base (retrieval)?
2. Or can it be answered directly from general knowledge?

Respond with JSON only: {"route": "query" or "direct", "reasoning": "..."}`

const evaluatorSystemPrompt = `You are an evaluation agent. Assess whether the search results
are sufficient to answer the user's query. Consider:
1. Relevance scores
2. Content quality
3. Coverage of the query

Respond with JSON only: {"sufficient": true or false, "reasoning": "..."}`

const synthesizerSystemPrompt = `You are a helpful assistant. Answer the user's query using only
the provided context. Cite sources by their index, e.g. [Source 1].
If the context does not contain the information needed, say so explicitly.`

func routerUserPrompt(query string) string {
	return "Query: " + query
}

// evaluatorSummary renders at most the first three results, each cut to
// its first 200 characters.
func evaluatorSummary(results []SearchResult) string {
	n := min(len(results), evaluatorResultLimit)
	lines := make([]string, 0, n)
	for i := range n {
		r := results[i]
		lines = append(lines, fmt.Sprintf("Result %d (score: %v): %s...",
			i+1, r.Score, firstRunes(r.Content, evaluatorContentRunes)))
	}
	return strings.Join(lines, "\n")
}

func evaluatorUserPrompt(query string, results []SearchResult) string {
	return fmt.Sprintf("Query: %s\n\nResults:\n%s", query, evaluatorSummary(results))
}

// synthesisContext renders at most the top five results as numbered sources.
func synthesisContext(results []SearchResult) string {
	n := min(len(results), synthesizerSourceLimit)
	blocks := make([]string, 0, n)
	for i := range n {
		r := results[i]
		blocks = append(blocks, fmt.Sprintf("[Source %d] (Score: %v)\n%s", i+1, r.Score, r.Content))
	}
	return strings.Join(blocks, "\n\n")
}

func synthesizerUserPrompt(query string, results []SearchResult) string {
	return fmt.Sprintf("Context:\n%s\n\nQuery: %s", synthesisContext(results), query)
}

// firstRunes returns at most n characters of s without splitting a rune.
func firstRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
