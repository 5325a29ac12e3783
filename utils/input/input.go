package input

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"git.fiblab.net/general/common/v2/mongoutil"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/utils/config"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v2"
)

var log = logrus.WithField("module", "input")

const fetchTimeout = 30 * time.Second

// LoadRoad 加载道路配置
// 功能：按优先级从文件、MongoDB或内联配置中加载道路
// 参数：c-配置
// 返回：道路配置
// 算法说明：
// 1. input.road.file不为空时从YAML文件读取
// 2. input.road.col不为空时从MongoDB读取，name不为空时按name字段查找
// 3. 否则使用内联的road配置
func LoadRoad(c config.Config) (config.Road, error) {
	path := c.Input.Road
	switch {
	case path.File != "":
		log.Infof("loading road from file %s", path.File)
		return readRoadFile(path.File)
	case path.Col != "":
		if c.Input.URI == "" {
			return config.Road{}, errors.New("input: input.uri is required to load road from MongoDB")
		}
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		return fetchRoad(ctx, c.Input.URI, path)
	case c.Road != nil:
		return *c.Road, nil
	default:
		return config.Road{}, errors.New("input: no road specified")
	}
}

// readRoadFile 从YAML文件读取道路，未知字段报错
func readRoadFile(file string) (config.Road, error) {
	var road config.Road
	data, err := os.ReadFile(file)
	if err != nil {
		return road, fmt.Errorf("input: read road file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &road); err != nil {
		return road, fmt.Errorf("input: unmarshal road file %s: %w", file, err)
	}
	return road, nil
}

// fetchRoad 从MongoDB读取道路文档
func fetchRoad(ctx context.Context, uri string, path config.InputPath) (config.Road, error) {
	var road config.Road
	client := mongoutil.NewClient(uri)
	defer client.Disconnect(context.Background())

	coll := mongoutil.GetMongoColl(client, path)
	filter := bson.M{}
	if path.Name != "" {
		filter["name"] = path.Name
	}
	log.Infof("start fetching road from %s.%s", path.DB, path.Col)
	if err := coll.FindOne(ctx, filter).Decode(&road); err != nil {
		return road, fmt.Errorf("input: fetch road from %s.%s: %w", path.DB, path.Col, err)
	}
	log.Infof("finish fetching road %q from %s.%s", road.Name, path.DB, path.Col)
	return road, nil
}
