package main

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"workorders/internal/domain"
)

func TestRootHelpDescribesRejection(t *testing.T) {
	m := regexp.MustCompile(`rejection sends them back to (\w+)\.`).FindStringSubmatch(rootCmd.Long)
	require.Len(t, m, 2)
	target := domain.State(m[1])
	require.Equal(t, domain.StateAssigned, target)
	require.True(t, domain.CanTransition(domain.StateInReview, target))
}
