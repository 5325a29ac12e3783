package road

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"git.fiblab.net/sim/syncer/v3"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/entity/segment"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/output"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/utils"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "roadflow.v1.RoadService"

	ResetAllSchedulesProcedure = "/" + ServiceName + "/ResetAllSchedules"
	ChangeRoadProcedure        = "/" + ServiceName + "/ChangeRoad"
	ResetRoadProcedure         = "/" + ServiceName + "/ResetRoad"
	GetRoadProcedure           = "/" + ServiceName + "/GetRoad"
)

// SetStatistics 设置GetRoad返回的路段统计来源
func (r *Road) SetStatistics(stats *output.Statistics) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.stats = stats
}

// Register 将RoadService注册到sidecar
// 功能：提供路段修改、恢复、重新调度与查询的RPC接口
// 参数：sidecar-同步器侧车实例
func (r *Road) Register(sidecar *syncer.Sidecar) {
	sidecar.Register(
		ServiceName,
		func(opts ...connect.HandlerOption) (pattern string, handler http.Handler) {
			mux := http.NewServeMux()
			mux.Handle(ResetAllSchedulesProcedure, connect.NewUnaryHandler(ResetAllSchedulesProcedure, r.ResetAllSchedulesRPC, opts...))
			mux.Handle(ChangeRoadProcedure, connect.NewUnaryHandler(ChangeRoadProcedure, r.ChangeRoad, opts...))
			mux.Handle(ResetRoadProcedure, connect.NewUnaryHandler(ResetRoadProcedure, r.ResetRoad, opts...))
			mux.Handle(GetRoadProcedure, connect.NewUnaryHandler(GetRoadProcedure, r.GetRoad, opts...))
			return "/" + ServiceName + "/", mux
		},
		syncer.WithNoLock(),
	)
}

// ResetAllSchedulesRPC RPC接口：所有在途车辆立即重新tick
func (r *Road) ResetAllSchedulesRPC(
	ctx context.Context, in *connect.Request[emptypb.Empty],
) (*connect.Response[emptypb.Empty], error) {
	r.ResetAllSchedules()
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// ChangeRoad RPC接口：修改部分路段的车道数与限速
// 功能：请求字段from、to为道路长度的比例，lanes、speed_limit可选
// 说明：参数不合法时返回InvalidArgument
func (r *Road) ChangeRoad(
	ctx context.Context, in *connect.Request[structpb.Struct],
) (*connect.Response[emptypb.Empty], error) {
	req, err := parseChangeRequest(in.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if _, err := r.Change(req); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

func parseChangeRequest(s *structpb.Struct) (ChangeRequest, error) {
	var req ChangeRequest
	var err error
	if req.From, err = utils.GetNumberOr(s, "from", 0); err != nil {
		return req, err
	}
	if req.To, err = utils.GetNumberOr(s, "to", 1); err != nil {
		return req, err
	}
	if lanes, ok, err := utils.GetInt32(s, "lanes"); err != nil {
		return req, err
	} else if ok {
		req.Lanes = lo.ToPtr(lanes)
	}
	if v, ok, err := utils.GetNumber(s, "speed_limit"); err != nil {
		return req, err
	} else if ok {
		req.SpeedLimit = lo.ToPtr(v)
	}
	return req, nil
}

// ResetRoad RPC接口：将所有路段恢复为建立时的配置
func (r *Road) ResetRoad(
	ctx context.Context, in *connect.Request[emptypb.Empty],
) (*connect.Response[emptypb.Empty], error) {
	r.Reset()
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// GetRoad RPC接口：获取道路与各路段的属性、占用和统计
func (r *Road) GetRoad(
	ctx context.Context, in *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	r.mtx.Lock()
	stats := r.stats
	active := len(r.vehicles)
	r.mtx.Unlock()

	segments := lo.Map(r.Segments(), func(attr segment.Attr, _ int) any {
		m := map[string]any{
			"index":       attr.Index,
			"length":      attr.Length,
			"speed_limit": attr.SpeedLimit,
			"lanes":       attr.Lanes,
			"capacity":    attr.Capacity,
			"occupancy":   attr.Occupancy,
		}
		if stats != nil {
			s := stats.Segment(attr.Index)
			m["events"] = s.Events
			m["vehicles"] = s.Vehicles
			m["avg_speed"] = s.AvgSpeed
		}
		return m
	})
	res, err := structpb.NewStruct(map[string]any{
		"name":            r.name,
		"length":          r.length,
		"segment_length":  r.segmentLength,
		"active_vehicles": active,
		"segments":        segments,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(res), nil
}
