package config

// InputPath 指定输入数据来源的配置（MongoDB、文件系统）
// 功能：定义道路数据输入路径，文件优先级高于MongoDB
type InputPath struct {
	DB   string `yaml:"db,omitempty"`   // 数据库名
	Col  string `yaml:"col,omitempty"`  // 集合名
	Name string `yaml:"name,omitempty"` // 道路文档名（按name字段查找，为空则取第一条）
	File string `yaml:"file,omitempty"` // 文件路径（优先级高于MongoDB）
}

// GetDb 获取数据库名
func (p InputPath) GetDb() string {
	return p.DB
}

// GetColl 获取集合名
func (p InputPath) GetColl() string {
	return p.Col
}

// IsEmpty 检查是否未指定任何数据来源
func (p InputPath) IsEmpty() bool {
	return p.File == "" && p.Col == ""
}

// Input 指定模拟器所有输入数据的配置项
type Input struct {
	URI  string    `yaml:"uri,omitempty"`  // MongoDB连接字符串
	Road InputPath `yaml:"road,omitempty"` // 道路
}

// Segment 路段配置
// 功能：描述一个路段的限速、车道数与初始占用
type Segment struct {
	SpeedLimit float64 `yaml:"speed_limit" bson:"speed_limit"`                   // 路段限速（长度单位/小时）
	Lanes      int32   `yaml:"lanes" bson:"lanes"`                               // 车道数
	Occupancy  float64 `yaml:"occupancy,omitempty" bson:"occupancy,omitempty"` // 初始占用（车辆长度之和）
}

// Road 道路配置
// 功能：道路总长与按顺序排列的路段，所有路段等长
type Road struct {
	Name     string    `yaml:"name,omitempty" bson:"name,omitempty"`
	Length   float64   `yaml:"length" bson:"length"`
	Segments []Segment `yaml:"segments" bson:"segments"`
}

// Vehicle 车辆配置
type Vehicle struct {
	TargetVelocity float64 `yaml:"target_velocity"`          // 期望自由流速度
	Length         float64 `yaml:"length"`                   // 车辆占用长度（用于容量计算）
	StartDistance  float64 `yaml:"start_distance,omitempty"` // 起始位置
}

// Spawn 车辆生成配置
// 功能：按固定间隔向道路投放车辆，目标速度带有随机扰动
type Spawn struct {
	Count          int32   `yaml:"count"`                    // 车辆总数
	IntervalMs     int64   `yaml:"interval_ms"`              // 投放间隔（真实毫秒）
	TargetVelocity float64 `yaml:"target_velocity"`          // 目标速度均值
	VelocityNoise  float64 `yaml:"velocity_noise,omitempty"` // 目标速度最大扰动
	Length         float64 `yaml:"length"`                   // 车辆长度
	Seed           uint64  `yaml:"seed,omitempty"`           // 随机数种子
}

// ControlTick 指定tick的模拟时长与加速倍率
// 真实间隔 = SleepMs / FastForward（毫秒），每次tick推进的模拟时长 = SleepMs
type ControlTick struct {
	SleepMs     float64 `yaml:"sleep_ms"`
	FastForward float64 `yaml:"fast_forward"`
}

// Control 模拟器控制配置
type Control struct {
	Tick             ControlTick `yaml:"tick"`
	ExitWhenFinished bool        `yaml:"exit_when_finished,omitempty"` // 所有车辆驶出道路后结束任务
}

// Output 上报记录输出配置，URI为空则不记录到MongoDB
type Output struct {
	URI   string `yaml:"uri,omitempty"`
	DB    string `yaml:"db,omitempty"`
	Col   string `yaml:"col,omitempty"`
	Batch int    `yaml:"batch,omitempty"` // 批量写入条数
}

// Config YAML配置文件的根结构
type Config struct {
	Input    Input     `yaml:"input,omitempty"`    // 输入
	Road     *Road     `yaml:"road,omitempty"`     // 内联道路（未指定input.road时使用）
	Vehicles []Vehicle `yaml:"vehicles,omitempty"` // 初始车辆
	Spawn    *Spawn    `yaml:"spawn,omitempty"`    // 车辆生成
	Control  Control   `yaml:"control"`            // 模拟过程控制
	Output   Output    `yaml:"output,omitempty"`   // 输出
}
