package workflow

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefinitionConfig 流程定义的配置文件格式, yaml 和 json 都可以
type DefinitionConfig struct {
	Name        string              `yaml:"name" json:"name" validate:"required"`
	Category    string              `yaml:"category" json:"category"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Nodes       []*NodeConfig       `yaml:"nodes" json:"nodes" validate:"dive,required"`
	Connections []*ConnectionConfig `yaml:"connections,omitempty" json:"connections,omitempty" validate:"dive,required"`
}

// NodeConfig 节点配置, NextNodes 是连线的简写, 第一个是默认连线
type NodeConfig struct {
	ID             string   `yaml:"id" json:"id" validate:"required"`
	Type           NodeType `yaml:"type" json:"type" validate:"required"`
	Name           string   `yaml:"name" json:"name"`
	Description    string   `yaml:"description,omitempty" json:"description,omitempty"`
	Assignees      []string `yaml:"assignees,omitempty" json:"assignees,omitempty"`
	TimeoutMinutes int64    `yaml:"timeout_minutes,omitempty" json:"timeout_minutes,omitempty"`
	NextNodes      []string `yaml:"next_nodes,omitempty" json:"next_nodes,omitempty"`
}

type ConnectionConfig struct {
	ID        string `yaml:"id,omitempty" json:"id,omitempty"`
	Source    string `yaml:"source" json:"source" validate:"required"`
	Target    string `yaml:"target" json:"target" validate:"required"`
	Name      string `yaml:"name,omitempty" json:"name,omitempty"`
	IsDefault bool   `yaml:"is_default,omitempty" json:"is_default,omitempty"`
}

// ParseDefinitionConfig json 是 yaml 的子集, 统一用 yaml 解析
func ParseDefinitionConfig(b []byte) (*DefinitionConfig, error) {
	config := &DefinitionConfig{}
	if err := yaml.Unmarshal(b, config); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "unmarshal definition config failed, err: %v", err)
	}
	if err := validatorUtil.Struct(config); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "definition config invalid, err: %v", err)
	}
	return config, nil
}

// Graph 转换成节点和连线, 先是显式连线, 然后是 next_nodes 展开的连线
func (c *DefinitionConfig) Graph() ([]*WorkflowNode, []*WorkflowConnection) {
	nodes := make([]*WorkflowNode, 0, len(c.Nodes))
	connections := make([]*WorkflowConnection, 0, len(c.Connections))
	for _, conn := range c.Connections {
		id := conn.ID
		if id == "" {
			id = uuid.NewString()
		}
		connections = append(connections, &WorkflowConnection{
			ID:           id,
			SourceNodeID: conn.Source,
			TargetNodeID: conn.Target,
			Name:         conn.Name,
			IsDefault:    conn.IsDefault,
		})
	}
	for _, n := range c.Nodes {
		nodes = append(nodes, &WorkflowNode{
			ID:             n.ID,
			Type:           n.Type,
			Name:           n.Name,
			Description:    n.Description,
			Assignment:     NodeAssignment{Assignees: append([]string(nil), n.Assignees...)},
			TimeoutMinutes: n.TimeoutMinutes,
		})
		for i, next := range n.NextNodes {
			connections = append(connections, &WorkflowConnection{
				ID:           uuid.NewString(),
				SourceNodeID: n.ID,
				TargetNodeID: next,
				IsDefault:    i == 0,
			})
		}
	}
	return nodes, connections
}

func (c *DefinitionConfig) ToCreateDefinitionReq(createdBy string) *CreateDefinitionReq {
	nodes, connections := c.Graph()
	return &CreateDefinitionReq{
		Name:        c.Name,
		Category:    c.Category,
		Description: c.Description,
		Nodes:       nodes,
		Connections: connections,
		CreatedBy:   createdBy,
	}
}

// ExportDefinitionConfig 导出成 yaml, 连线全部显式导出
func ExportDefinitionConfig(def *WorkflowDefinition) ([]byte, error) {
	if def == nil {
		return nil, errors.Wrap(ErrWorkflowParamInvalid, "nil definition")
	}
	config := &DefinitionConfig{
		Name:        def.Name,
		Category:    def.Category,
		Description: def.Description,
		Nodes:       make([]*NodeConfig, 0, len(def.Nodes)),
		Connections: make([]*ConnectionConfig, 0, len(def.Connections)),
	}
	for _, n := range def.Nodes {
		config.Nodes = append(config.Nodes, &NodeConfig{
			ID:             n.ID,
			Type:           n.Type,
			Name:           n.Name,
			Description:    n.Description,
			Assignees:      n.Assignment.Assignees,
			TimeoutMinutes: n.TimeoutMinutes,
		})
	}
	for _, conn := range def.Connections {
		config.Connections = append(config.Connections, &ConnectionConfig{
			ID:        conn.ID,
			Source:    conn.SourceNodeID,
			Target:    conn.TargetNodeID,
			Name:      conn.Name,
			IsDefault: conn.IsDefault,
		})
	}
	b, err := yaml.Marshal(config)
	if err != nil {
		return nil, errors.WithMessage(err, "marshal definition config failed")
	}
	return b, nil
}
