package vehicle

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"git.fiblab.net/sim/syncer/v3"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/utils"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/utils/config"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName = "roadflow.v1.VehicleService"

	AddVehicleProcedure    = "/" + ServiceName + "/AddVehicle"
	RemoveVehicleProcedure = "/" + ServiceName + "/RemoveVehicle"
	GetVehiclesProcedure   = "/" + ServiceName + "/GetVehicles"
)

// Register 将VehicleService注册到sidecar
func (m *VehicleManager) Register(sidecar *syncer.Sidecar) {
	sidecar.Register(
		ServiceName,
		func(opts ...connect.HandlerOption) (pattern string, handler http.Handler) {
			mux := http.NewServeMux()
			mux.Handle(AddVehicleProcedure, connect.NewUnaryHandler(AddVehicleProcedure, m.AddVehicle, opts...))
			mux.Handle(RemoveVehicleProcedure, connect.NewUnaryHandler(RemoveVehicleProcedure, m.RemoveVehicle, opts...))
			mux.Handle(GetVehiclesProcedure, connect.NewUnaryHandler(GetVehiclesProcedure, m.GetVehicles, opts...))
			return "/" + ServiceName + "/", mux
		},
		syncer.WithNoLock(),
	)
}

// AddVehicle RPC接口：新增车辆并进入道路，返回车辆ID
// 功能：请求字段target_velocity、length、start_distance
func (m *VehicleManager) AddVehicle(
	ctx context.Context, in *connect.Request[structpb.Struct],
) (*connect.Response[wrapperspb.Int32Value], error) {
	var base config.Vehicle
	var err error
	if base.TargetVelocity, err = utils.GetNumberOr(in.Msg, "target_velocity", 0); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if base.Length, err = utils.GetNumberOr(in.Msg, "length", 0); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if base.StartDistance, err = utils.GetNumberOr(in.Msg, "start_distance", 0); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	a, err := m.Add(base)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return connect.NewResponse(wrapperspb.Int32(a.ID())), nil
}

// RemoveVehicle RPC接口：将车辆从道路注销
// 说明：车辆不存在或已不在道路上时返回NotFound
func (m *VehicleManager) RemoveVehicle(
	ctx context.Context, in *connect.Request[wrapperspb.Int32Value],
) (*connect.Response[emptypb.Empty], error) {
	if err := m.Remove(in.Msg.GetValue()); err != nil {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// GetVehicles RPC接口：获取车辆状态
// 功能：请求字段ids可选，为空时返回所有创建过的车辆；不存在的ID在failed_ids中返回
func (m *VehicleManager) GetVehicles(
	ctx context.Context, in *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	ids, err := utils.GetIDs(in.Msg, "ids")
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	data := m.Data()
	dataMap := lo.SliceToMap(data, func(a *Agent) (int32, *Agent) { return a.id, a })
	agents, failed := utils.Find(dataMap, data, ids)
	res, err := structpb.NewStruct(map[string]any{
		"vehicles":   lo.Map(agents, func(a *Agent, _ int) any { return a.toMap() }),
		"failed_ids": lo.Map(failed, func(id int32, _ int) any { return id }),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(res), nil
}

func (a *Agent) toMap() map[string]any {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return map[string]any{
		"id":              a.id,
		"length":          a.length,
		"target_velocity": a.targetV,
		"status":          a.status.String(),
		"distance":        a.motion.Distance,
		"v":               a.motion.V,
		"segment":         a.motion.Segment,
		"blocked":         a.motion.Blocked,
		"elapsed_hours":   a.elapsed,
		"ticks":           a.ticks,
		"blocked_ticks":   a.blocked,
	}
}
