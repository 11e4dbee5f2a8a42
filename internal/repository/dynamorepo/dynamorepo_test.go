package dynamorepo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"

	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/coords"
	"voxelforge.ai/internal/repository"
)

func TestItemRoundTrip(t *testing.T) {
	c := coords.ChunkCoord{X: 9, Z: -1}
	d := chunk.New(c, 2)
	d.StructureCount = 3
	rec, err := repository.EncodeRecord(c, d)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	it := ItemFromRecord(rec)
	if it.Key != "9,-1" || it.ContentHash != d.ContentHash() {
		t.Fatalf("item %+v", it)
	}
	back := it.ToRecord()
	if !back.UpdatedAt.Equal(rec.UpdatedAt) {
		t.Fatalf("updated_at %v vs %v", back.UpdatedAt, rec.UpdatedAt)
	}
	got, err := back.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.StructureCount != 3 || got.Coord != c {
		t.Fatalf("decoded %+v", got.Coord)
	}
}

func TestErrorClassification(t *testing.T) {
	ccf := awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "unchanged", nil)
	if !isCondCheckFailed(ccf) || !isCondCheckFailed(fmt.Errorf("put: %w", ccf)) {
		t.Fatalf("conditional check failure not detected")
	}
	if isCondCheckFailed(errors.New("boom")) || isCondCheckFailed(nil) {
		t.Fatalf("false positive")
	}
	throttled := awserr.New(dynamodb.ErrCodeProvisionedThroughputExceededException, "slow down", nil)
	if !errors.Is(classify(throttled), repository.ErrUnavailable) {
		t.Fatalf("throttling should be unavailable")
	}
	if errors.Is(classify(errors.New("bad item")), repository.ErrUnavailable) {
		t.Fatalf("plain error should stay per-record")
	}
	if TableName("voxelforge", "prod") != "voxelforge-prod-chunks" {
		t.Fatalf("table name %q", TableName("voxelforge", "prod"))
	}
}
