package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthome-dev/synthome/pkg/errors"
)

func TestParse_AliasPairs(t *testing.T) {
	data := []byte(`{
		"jobs": [
			{"id": "img", "type": "generateImage", "params": {"prompt": "sky"}, "output": "$img"},
			{"id": "vid", "operation": "generate", "params": {"image": "_imageJobDependency:img"}, "dependsOn": ["img"]}
		]
	}`)

	p, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, p.Jobs, 2)

	assert.Equal(t, "generateImage", p.Jobs[0].Operation)
	assert.Equal(t, "$img", p.Jobs[0].Output)
	assert.Equal(t, "generate", p.Jobs[1].Operation)
	assert.Equal(t, []string{"img"}, p.Jobs[1].Dependencies)
}

func TestParse_DependenciesFieldPreferred(t *testing.T) {
	data := []byte(`{
		"jobs": [
			{"id": "a", "operation": "generate"},
			{"id": "b", "operation": "merge", "dependencies": ["a"], "dependsOn": ["ignored"]}
		]
	}`)

	p, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, p.Jobs[1].Dependencies)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    *Plan
		wantErr bool
		code    int
	}{
		{
			name:    "empty plan",
			plan:    &Plan{},
			wantErr: true,
			code:    errors.InvalidPlan,
		},
		{
			name: "single job",
			plan: &Plan{Jobs: []*JobSpec{
				{ID: "v1", Operation: OperationGenerate},
			}},
		},
		{
			name: "missing id",
			plan: &Plan{Jobs: []*JobSpec{
				{Operation: OperationGenerate},
			}},
			wantErr: true,
			code:    errors.InvalidPlan,
		},
		{
			name: "duplicate id",
			plan: &Plan{Jobs: []*JobSpec{
				{ID: "v1", Operation: OperationGenerate},
				{ID: "v1", Operation: OperationMerge},
			}},
			wantErr: true,
			code:    errors.InvalidPlan,
		},
		{
			name: "unknown operation",
			plan: &Plan{Jobs: []*JobSpec{
				{ID: "v1", Operation: "teleport"},
			}},
			wantErr: true,
			code:    errors.InvalidOperation,
		},
		{
			name: "dangling dependency",
			plan: &Plan{Jobs: []*JobSpec{
				{ID: "v1", Operation: OperationGenerate, Dependencies: []string{"missing"}},
			}},
			wantErr: true,
			code:    errors.InvalidPlan,
		},
		{
			name: "dangling dependency with base execution",
			plan: &Plan{
				BaseExecutionID: "exec-base",
				Jobs: []*JobSpec{
					{ID: "v1", Operation: OperationGenerate, Dependencies: []string{"from-base"}},
				},
			},
		},
		{
			name: "self dependency",
			plan: &Plan{Jobs: []*JobSpec{
				{ID: "v1", Operation: OperationGenerate, Dependencies: []string{"v1"}},
			}},
			wantErr: true,
			code:    errors.InvalidPlan,
		},
		{
			name: "two-node cycle",
			plan: &Plan{Jobs: []*JobSpec{
				{ID: "a", Operation: OperationGenerate, Dependencies: []string{"b"}},
				{ID: "b", Operation: OperationMerge, Dependencies: []string{"a"}},
			}},
			wantErr: true,
			code:    errors.InvalidPlan,
		},
		{
			name: "diamond",
			plan: &Plan{Jobs: []*JobSpec{
				{ID: "a", Operation: OperationGenerate},
				{ID: "b", Operation: OperationGenerate, Dependencies: []string{"a"}},
				{ID: "c", Operation: OperationGenerate, Dependencies: []string{"a"}},
				{ID: "d", Operation: OperationMerge, Dependencies: []string{"b", "c"}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.code, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPlan_Leaves(t *testing.T) {
	p := &Plan{Jobs: []*JobSpec{
		{ID: "a", Operation: OperationGenerate},
		{ID: "b", Operation: OperationGenerate},
		{ID: "m", Operation: OperationMerge, Dependencies: []string{"a", "b"}},
	}}

	leaves := p.Leaves()
	require.Len(t, leaves, 1)
	assert.Equal(t, "m", leaves[0].ID)
}

func TestIsValidOperation(t *testing.T) {
	for _, op := range AllOperations() {
		assert.True(t, IsValidOperation(op), op)
	}
	assert.False(t, IsValidOperation("explode"))
	assert.False(t, IsValidOperation(""))
}

func TestIsSyncOperation(t *testing.T) {
	assert.True(t, IsSyncOperation(OperationMerge))
	assert.True(t, IsSyncOperation(OperationLayer))
	assert.True(t, IsSyncOperation(OperationAddSubtitles))
	assert.False(t, IsSyncOperation(OperationGenerate))
	assert.False(t, IsSyncOperation(OperationTranscribe))
}
