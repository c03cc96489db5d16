package embeddings

import (
	"context"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// memoSize bounds how many query vectors ToChromemFunc remembers. Mentions
// such as "lamp" or "porch light" repeat across requests.
const memoSize = 256

// ToChromemFunc adapts e to chromem's single-text embedding function. Recent
// results are memoised so repeated mentions cost one backend call.
func ToChromemFunc(e Embedder) chromem.EmbeddingFunc {
	var (
		mu    sync.Mutex
		memo  = make(map[string][]float32, memoSize)
		order []string
	)
	return func(ctx context.Context, text string) ([]float32, error) {
		mu.Lock()
		if v, ok := memo[text]; ok {
			mu.Unlock()
			return v, nil
		}
		mu.Unlock()

		out, err := e.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return nil, nil
		}

		mu.Lock()
		defer mu.Unlock()
		if _, ok := memo[text]; !ok {
			if len(order) == memoSize {
				delete(memo, order[0])
				order = order[1:]
			}
			order = append(order, text)
			memo[text] = out[0]
		}
		return out[0], nil
	}
}
