package protocol

import "fmt"

// Method is a notify method id of the game scene service.
type Method uint16

const (
	MethodSyncSubSceneAttrs         Method = 0x01
	MethodNotifySwitchSceneEnd      Method = 0x02
	MethodEnterScene                Method = 0x03
	MethodNotifyLoadSceneEnd        Method = 0x04
	MethodTeleport                  Method = 0x05
	MethodSyncNearEntities          Method = 0x06
	MethodSyncSceneAttrs            Method = 0x07
	MethodSyncSceneEvents           Method = 0x08
	MethodSyncEntityBehaviorTree    Method = 0x09
	MethodSyncPlayCameraAnimation   Method = 0x0a
	MethodSyncFieldOfView           Method = 0x0b
	MethodSyncLog                   Method = 0x0c
	MethodSyncPathNode              Method = 0x0d
	MethodSyncServerData            Method = 0x0f
	MethodForcedPullBack            Method = 0x10
	MethodLineDrawing               Method = 0x11
	MethodEnterGame                 Method = 0x14
	MethodSyncContainerData         Method = 0x15
	MethodSyncContainerDirtyData    Method = 0x16
	MethodSyncDungeonData           Method = 0x17
	MethodSyncDungeonDirtyData      Method = 0x18
	MethodSyncPersonalObject        Method = 0x22
	MethodPersonalObjectUpdate      Method = 0x23
	MethodNotifyReviveUser          Method = 0x27
	MethodSyncServerTime            Method = 0x2b
	MethodSyncNearDeltaInfo         Method = 0x2d
	MethodSyncToMeDeltaInfo         Method = 0x2e
	MethodNotifyClientKickOff       Method = 0x31
	MethodPersonalGroupObjectUpdate Method = 0x3c
	MethodNotifyUserCloseFunction   Method = 0x3e
	MethodNotifyServerCloseFunction Method = 0x3f
	MethodBounceJump                Method = 0x42
	MethodSyncClientUseSkill        Method = 0x43
	MethodSyncAllServerStateObject  Method = 0x44
	MethodNotifyTimerList           Method = 0x48
	MethodNotifyTimerUpdate         Method = 0x49
)

var methodNames = map[Method]string{
	MethodSyncSubSceneAttrs:         "SyncSubSceneAttrs",
	MethodNotifySwitchSceneEnd:      "NotifySwitchSceneEnd",
	MethodEnterScene:                "EnterScene",
	MethodNotifyLoadSceneEnd:        "NotifyLoadSceneEnd",
	MethodTeleport:                  "Teleport",
	MethodSyncNearEntities:          "SyncNearEntities",
	MethodSyncSceneAttrs:            "SyncSceneAttrs",
	MethodSyncSceneEvents:           "SyncSceneEvents",
	MethodSyncEntityBehaviorTree:    "SyncEntityBehaviorTree",
	MethodSyncPlayCameraAnimation:   "SyncPlayCameraAnimation",
	MethodSyncFieldOfView:           "SyncFieldOfView",
	MethodSyncLog:                   "SyncLog",
	MethodSyncPathNode:              "SyncPathNode",
	MethodSyncServerData:            "SyncServerData",
	MethodForcedPullBack:            "ForcedPullBack",
	MethodLineDrawing:               "LineDrawing",
	MethodEnterGame:                 "EnterGame",
	MethodSyncContainerData:         "SyncContainerData",
	MethodSyncContainerDirtyData:    "SyncContainerDirtyData",
	MethodSyncDungeonData:           "SyncDungeonData",
	MethodSyncDungeonDirtyData:      "SyncDungeonDirtyData",
	MethodSyncPersonalObject:        "SyncPersonalObject",
	MethodPersonalObjectUpdate:      "PersonalObjectUpdate",
	MethodNotifyReviveUser:          "NotifyReviveUser",
	MethodSyncServerTime:            "SyncServerTime",
	MethodSyncNearDeltaInfo:         "SyncNearDeltaInfo",
	MethodSyncToMeDeltaInfo:         "SyncToMeDeltaInfo",
	MethodNotifyClientKickOff:       "NotifyClientKickOff",
	MethodPersonalGroupObjectUpdate: "PersonalGroupObjectUpdate",
	MethodNotifyUserCloseFunction:   "NotifyUserCloseFunction",
	MethodNotifyServerCloseFunction: "NotifyServerCloseFunction",
	MethodBounceJump:                "BounceJump",
	MethodSyncClientUseSkill:        "SyncClientUseSkill",
	MethodSyncAllServerStateObject:  "SyncAllServerStateObject",
	MethodNotifyTimerList:           "NotifyTimerList",
	MethodNotifyTimerUpdate:         "NotifyTimerUpdate",
}

// Known reports whether m is part of the scene service surface.
func (m Method) Known() bool {
	_, ok := methodNames[m]
	return ok
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Method(%#x)", uint16(m))
}
