package weaviate_test

import (
	"testing"

	adapter "github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/adapter/weaviate"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/testutils"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/vector/vectortest"
)

func TestIndex_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	s := testutils.NewIntegrationSuite(t)
	s.SkipNSQ = true
	s.Setup()
	defer s.Teardown()

	vectortest.RunConformance(t, adapter.NewIndex(s.Weaviate, "conformance_chunks"))
}
