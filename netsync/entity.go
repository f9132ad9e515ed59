package netsync

import (
	"errors"
	"fmt"

	"replicore/wire"
)

// TypeSpec 可生成的实体类型
type TypeSpec struct {
	Name   string
	Schema wire.Schema
	// Fast 使用更快的追赶速率，适合高速移动的实体
	Fast bool
	// Physics 物理实体只在主控端模拟，其他端运动学跟随
	Physics bool
}

// Entity 本端看到的网络实体
type Entity struct {
	ID   wire.EntityID
	Type *TypeSpec
	// UserData 供上层挂接游戏对象
	UserData any

	owner       wire.PeerID
	scene       bool
	init        wire.Args
	initialized bool
	simulate    bool

	state  wire.State // 当前显示的状态
	target wire.State // 最近收到的远端状态
	dirty  bool
}

func (e *Entity) Owner() wire.PeerID { return e.owner }
func (e *Entity) Scene() bool        { return e.scene }
func (e *Entity) Init() wire.Args    { return e.init }

// Initialized 两阶段生成时，初始化数据到达之前为 false
func (e *Entity) Initialized() bool { return e.initialized }

// Simulating 本端是否对该物理实体进行模拟
func (e *Entity) Simulating() bool { return e.simulate }

func (e *Entity) State() wire.State  { return e.state }
func (e *Entity) Target() wire.State { return e.target }

// RegisterType 注册实体类型，所有对端需注册相同的类型与 Schema
func (s *Session) RegisterType(spec TypeSpec) error {
	if spec.Name == "" {
		return errors.New("netsync: entity type needs a name")
	}
	if _, ok := s.types[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, spec.Name)
	}
	s.types[spec.Name] = &spec
	return nil
}

type spawnOptions struct {
	owner    wire.PeerID
	scene    bool
	init     []any
	twoPhase bool
}

// SpawnOption 生成选项
type SpawnOption func(*spawnOptions)

// WithOwner 代其他对端生成，只有主控端可以使用
func WithOwner(p wire.PeerID) SpawnOption { return func(o *spawnOptions) { o.owner = p } }

// WithInit 生成时携带的初始化数据
func WithInit(args ...any) SpawnOption { return func(o *spawnOptions) { o.init = args } }

// AsSceneObject 场景对象归主控端所有，主控端离开时移交给新主控端
func AsSceneObject() SpawnOption { return func(o *spawnOptions) { o.scene = true } }

// TwoPhase 覆盖 Config.TwoPhaseSpawn
func TwoPhase(on bool) SpawnOption { return func(o *spawnOptions) { o.twoPhase = on } }

// Spawn 生成实体并缓冲广播，本端立即创建
func (s *Session) Spawn(typeName string, pos wire.Vec3, rot wire.Quat, opts ...SpawnOption) (*Entity, error) {
	o := spawnOptions{owner: s.self, twoPhase: s.cfg.TwoPhaseSpawn}
	for _, opt := range opts {
		opt(&o)
	}
	if s.state != Connected {
		return nil, ErrNotConnected
	}
	spec, ok := s.types[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	if (o.scene || o.owner != s.self) && !s.IsMaster() {
		return nil, ErrNotMaster
	}
	if o.scene {
		o.owner = s.self
	}
	if !s.registry.Contains(o.owner) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, o.owner)
	}
	if s.sendOff[wire.ChannelGameplay] {
		inc(&s.stats.GatedSends)
		return nil, fmt.Errorf("%w %d", ErrChannelDisabled, wire.ChannelGameplay)
	}
	init, err := wire.EncodeArgs(o.init...)
	if err != nil {
		return nil, err
	}

	s.serial++
	id := wire.MakeEntityID(s.level.prefix, s.self, s.serial)
	rec := wire.SpawnRecord{Position: pos, Rotation: rot, Scene: o.scene, Deferred: o.twoPhase}
	if !o.twoPhase {
		rec.Init = init
	}
	if err := s.transmit(wire.Message{
		Kind:    wire.KindInstantiate,
		Channel: wire.ChannelGameplay,
		Mode:    wire.ToAll,
		Flags:   wire.FlagBuffered,
		Owner:   o.owner,
		Entity:  id,
		Name:    typeName,
		Payload: wire.EncodeSpawn(rec),
	}); err != nil {
		return nil, err
	}
	if o.twoPhase {
		if err := s.transmit(wire.Message{
			Kind:    wire.KindInit,
			Channel: wire.ChannelGameplay,
			Mode:    wire.ToAll,
			Flags:   wire.FlagBuffered,
			Entity:  id,
			Payload: init,
		}); err != nil {
			return nil, err
		}
	}

	e := s.createEntity(id, spec, o.owner, rec)
	e.init = init
	e.initialized = true
	s.handler.OnSpawned(e)
	return e, nil
}

// SpawnSceneObject 生成归主控端所有的场景对象
func (s *Session) SpawnSceneObject(typeName string, pos wire.Vec3, rot wire.Quat, opts ...SpawnOption) (*Entity, error) {
	return s.Spawn(typeName, pos, rot, append(opts, AsSceneObject())...)
}

// Destroy 销毁实体；拥有者或主控端可以调用
func (s *Session) Destroy(id wire.EntityID) error {
	if s.state != Connected {
		return ErrNotConnected
	}
	e, ok := s.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	if e.owner != s.self && !s.IsMaster() {
		return ErrNotOwner
	}
	if s.sendOff[wire.ChannelGameplay] {
		inc(&s.stats.GatedSends)
		return fmt.Errorf("%w %d", ErrChannelDisabled, wire.ChannelGameplay)
	}
	if err := s.transmit(wire.Message{
		Kind:    wire.KindDestroy,
		Channel: wire.ChannelGameplay,
		Mode:    wire.ToAll,
		Flags:   wire.FlagBuffered,
		Entity:  id,
	}); err != nil {
		return err
	}
	s.removeEntity(e)
	return nil
}

// TransferOwnership 将实体移交给另一个对端；拥有者或主控端可以调用
func (s *Session) TransferOwnership(id wire.EntityID, to wire.PeerID) error {
	if s.state != Connected {
		return ErrNotConnected
	}
	e, ok := s.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	if e.owner != s.self && !s.IsMaster() {
		return ErrNotOwner
	}
	if !s.registry.Contains(to) {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}
	if err := s.transmit(wire.Message{
		Kind:    wire.KindOwnerChanged,
		Channel: wire.ChannelGameplay,
		Mode:    wire.ToAll,
		Flags:   wire.FlagBuffered,
		Owner:   to,
		Entity:  id,
	}); err != nil {
		return err
	}
	s.changeOwner(e, to)
	return nil
}

func (s *Session) onInstantiate(m wire.Message) {
	if s.stale(m) {
		return
	}
	if _, exists := s.entities[m.Entity]; exists {
		inc(&s.stats.Duplicates)
		return
	}
	spec, ok := s.types[m.Name]
	if !ok {
		s.log.Warnw("spawn of unregistered type", "type", m.Name, "entity", m.Entity)
		return
	}
	rec, err := wire.DecodeSpawn(m.Payload)
	if err != nil {
		s.log.Warnw("bad spawn record", "entity", m.Entity, "err", err)
		return
	}
	e := s.createEntity(m.Entity, spec, m.Owner, rec)
	if rec.Deferred {
		return
	}
	e.init = rec.Init
	e.initialized = true
	s.handler.OnSpawned(e)
}

// onInit 两阶段生成的第二步；之后到达的重复初始化被丢弃
func (s *Session) onInit(m wire.Message) {
	e, ok := s.entities[m.Entity]
	if !ok {
		inc(&s.stats.MissingTargets)
		return
	}
	if e.initialized {
		inc(&s.stats.Duplicates)
		return
	}
	e.init = m.Payload
	e.initialized = true
	s.handler.OnSpawned(e)
}

func (s *Session) onDestroy(m wire.Message) {
	if e, ok := s.entities[m.Entity]; ok {
		s.removeEntity(e)
	}
}

func (s *Session) onOwnerChanged(m wire.Message) {
	e, ok := s.entities[m.Entity]
	if !ok {
		inc(&s.stats.MissingTargets)
		return
	}
	if e.owner != m.Owner {
		s.changeOwner(e, m.Owner)
	}
}

func (s *Session) createEntity(id wire.EntityID, spec *TypeSpec, owner wire.PeerID, rec wire.SpawnRecord) *Entity {
	st := wire.State{Position: rec.Position, Rotation: rec.Rotation, Fields: zeroFields(spec.Schema)}
	e := &Entity{
		ID:     id,
		Type:   spec,
		owner:  owner,
		scene:  rec.Scene,
		state:  st,
		target: st,
	}
	e.simulate = spec.Physics && s.IsMaster()
	s.entities[id] = e
	return e
}

func (s *Session) removeEntity(e *Entity) {
	delete(s.entities, e.ID)
	s.handler.OnDestroyed(e)
}

// changeOwner 新拥有者以当前显示的状态作为权威状态继续发布
func (s *Session) changeOwner(e *Entity, to wire.PeerID) {
	prev := e.owner
	e.owner = to
	if to == s.self {
		e.target = e.state
		e.dirty = true
	}
	s.handler.OnOwnerChanged(e, prev)
}

// refreshAuthority 同一时刻只有主控端模拟物理实体
func (s *Session) refreshAuthority() {
	master := s.IsMaster()
	for _, e := range s.Entities() {
		if !e.Type.Physics || e.simulate == master {
			continue
		}
		e.simulate = master
		s.handler.OnAuthorityChanged(e, master)
	}
}

func zeroFields(schema wire.Schema) []wire.Field {
	if len(schema) == 0 {
		return nil
	}
	fields := make([]wire.Field, len(schema))
	for i, k := range schema {
		fields[i].Kind = k
	}
	return fields
}
