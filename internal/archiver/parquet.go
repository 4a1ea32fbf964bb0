package archiver

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"paystream/pkg/models"
)

// serializeEvents encodes one buffered batch as a Snappy-compressed
// parquet blob. Record order is preserved.
func serializeEvents(events []models.RawEvent) ([]byte, error) {
	buf := new(bytes.Buffer)

	writer := parquet.NewGenericWriter[models.RawEvent](buf, parquet.Compression(&parquet.Snappy))
	if _, err := writer.Write(events); err != nil {
		return nil, fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet writer: %w", err)
	}

	return buf.Bytes(), nil
}

// deserializeEvents decodes one archived parquet file back into its
// record set, preserving order.
func deserializeEvents(data []byte) ([]models.RawEvent, error) {
	events, err := parquet.Read[models.RawEvent](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet rows: %w", err)
	}
	return events, nil
}
