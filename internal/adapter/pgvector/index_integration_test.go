package pgvector_test

import (
	"testing"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/adapter/pgvector"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/testutils"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/vector/vectortest"
)

func TestIndex_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	s := testutils.NewIntegrationSuite(t)
	s.SkipWeaviate = true
	s.SkipNSQ = true
	s.Setup()
	defer s.Teardown()

	vectortest.RunConformance(t, pgvector.NewIndex(s.DB, "conformance_chunks"))
}
