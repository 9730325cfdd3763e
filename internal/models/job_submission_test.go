package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusSubmitted, JobStatusApproved, true},
		{JobStatusSubmitted, JobStatusRejected, true},
		{JobStatusSubmitted, JobStatusPublished, false},
		{JobStatusApproved, JobStatusPublished, true},
		{JobStatusApproved, JobStatusRejected, true},
		{JobStatusApproved, JobStatusSubmitted, false},
		{JobStatusPublished, JobStatusRejected, false},
		{JobStatusRejected, JobStatusApproved, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}
