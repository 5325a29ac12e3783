package input

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/utils/config"
)

func writeFile(t *testing.T, content string) string {
	file := filepath.Join(t.TempDir(), "road.yaml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))
	return file
}

func TestLoadRoadFromFile(t *testing.T) {
	file := writeFile(t, `
name: bandeirantes
length: 100
segments:
  - {speed_limit: 100, lanes: 2}
  - {speed_limit: 80, lanes: 1, occupancy: 10}
`)
	road, err := LoadRoad(config.Config{
		Input: config.Input{Road: config.InputPath{File: file}},
		// 文件优先于内联配置
		Road: &config.Road{Length: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, config.Road{
		Name:   "bandeirantes",
		Length: 100,
		Segments: []config.Segment{
			{SpeedLimit: 100, Lanes: 2},
			{SpeedLimit: 80, Lanes: 1, Occupancy: 10},
		},
	}, road)
}

func TestLoadRoadErrors(t *testing.T) {
	file := writeFile(t, "length: 100\nstretches: []\n")
	_, err := LoadRoad(config.Config{Input: config.Input{Road: config.InputPath{File: file}}})
	assert.Error(t, err)

	_, err = LoadRoad(config.Config{Input: config.Input{Road: config.InputPath{File: filepath.Join(t.TempDir(), "missing.yaml")}}})
	assert.Error(t, err)

	_, err = LoadRoad(config.Config{Input: config.Input{Road: config.InputPath{DB: "sim", Col: "roads"}}})
	assert.ErrorContains(t, err, "input.uri")

	_, err = LoadRoad(config.Config{})
	assert.Error(t, err)
}

func TestLoadRoadInline(t *testing.T) {
	inline := config.Road{Length: 10, Segments: []config.Segment{{SpeedLimit: 40, Lanes: 2}}}
	road, err := LoadRoad(config.Config{Road: &inline})
	require.NoError(t, err)
	assert.Equal(t, inline, road)
}
