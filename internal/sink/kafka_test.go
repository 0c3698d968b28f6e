package sink

import (
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/voxd/voxd/internal/bus"
)

func TestWriterConfiguration(t *testing.T) {
	b := bus.NewUpdateBus()
	s := NewKafkaSink([]string{"broker-1:9092", "broker-2:9092"}, "voxd.updates", b, nil)
	defer s.Close()

	if s.writer.Topic != "voxd.updates" {
		t.Fatalf("topic = %q", s.writer.Topic)
	}
	if _, ok := s.writer.Balancer.(*kafka.Hash); !ok {
		t.Fatalf("balancer = %T, want hash on userId key", s.writer.Balancer)
	}
	if s.writer.Async {
		t.Fatal("writer must be synchronous so failures are observable")
	}
}
