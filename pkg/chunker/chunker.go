// Package chunker splits content into content-defined chunks using the
// buzhash rolling hash. Chunk boundaries depend only on the content, so
// an edit in the middle of a file leaves the surrounding chunks, and
// their addresses, unchanged.
package chunker

import (
	"bytes"
	"fmt"
	"io"

	chunker "github.com/ipfs/boxo/chunker"

	"github.com/i5heu/ouroboros-mesh/pkg/model"
)

// ChunkReader chunks the data from reader and returns the chunks through
// a channel. The chunk size is minimum/maximum = 128K/512K.
// At most one error is sent; the chunk channel is closed first.
func ChunkReader(reader io.Reader) (chan model.Chunk, chan error) {
	resultChan := make(chan model.Chunk, 20)
	errorChan := make(chan error, 1)
	bz := chunker.NewBuzhash(reader)

	go func() {
		defer close(errorChan)
		defer close(resultChan)

		for {
			data, err := bz.NextBytes()
			if err == io.EOF {
				return
			}
			if err != nil {
				errorChan <- fmt.Errorf("error reading chunk: %w", err)
				return
			}
			resultChan <- model.NewChunk(data)
		}
	}()

	return resultChan, errorChan
}

// ChunkBytes splits data and collects the chunks in order.
func ChunkBytes(data []byte) ([]model.Chunk, error) {
	resultChan, errorChan := ChunkReader(bytes.NewReader(data))
	var chunks []model.Chunk
	for c := range resultChan {
		chunks = append(chunks, c)
	}
	if err := <-errorChan; err != nil {
		return nil, err
	}
	return chunks, nil
}
