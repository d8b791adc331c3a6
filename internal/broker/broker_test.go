package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDepartmentQueue_KnownDepartments(t *testing.T) {
	cases := map[string]string{
		"data_retrieval": QueueDeptDataRetrieval,
		"quantitative":   QueueDeptQuantitative,
		"qualitative":    QueueDeptQualitative,
		"recommendation": QueueDeptRecommendation,
		"comparative":    QueueDeptComparative,
		"predictive":     QueueDeptPredictive,
	}

	for dept, want := range cases {
		got, err := DepartmentQueue(dept)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDepartmentQueue_UnknownDepartment(t *testing.T) {
	_, err := DepartmentQueue("accounting")
	assert.Error(t, err)
}

func TestAllQueues_MatchesFixedTopology(t *testing.T) {
	assert.ElementsMatch(t, []string{
		"ingest",
		"dept.data_retrieval",
		"dept.quantitative",
		"dept.qualitative",
		"dept.recommendation",
		"dept.comparative",
		"dept.predictive",
		"action.execute",
	}, AllQueues)
}

func TestDlqName_AppendsSuffix(t *testing.T) {
	assert.Equal(t, "ingest.dlq", dlqName("ingest"))
	assert.Equal(t, "dept.quantitative.dlq", dlqName(QueueDeptQuantitative))
}
