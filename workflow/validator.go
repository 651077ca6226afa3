package workflow

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validatorUtil = validator.New(validator.WithRequiredStructEnabled())

// ValidationError 一条结构校验错误, NodeID 为空表示整个定义级别的问题
type ValidationError struct {
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	if e.NodeID == "" {
		return e.Message
	}
	return fmt.Sprintf("node[%s]: %s", e.NodeID, e.Message)
}

// DefinitionInvalidError 校验失败的完整错误列表
type DefinitionInvalidError struct {
	Errors []ValidationError
}

func (e *DefinitionInvalidError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		msgs = append(msgs, item.String())
	}
	return fmt.Sprintf("%s: %s", ErrValidationFailed.Error(), strings.Join(msgs, "; "))
}

func (e *DefinitionInvalidError) Cause() error { return ErrValidationFailed }

func (e *DefinitionInvalidError) Unwrap() error { return ErrValidationFailed }

// Validate 只做结构校验, 不检查表达式之类的语义, 返回全部错误
func Validate(def *WorkflowDefinition) []ValidationError {
	ret := make([]ValidationError, 0)
	if def == nil || len(def.Nodes) == 0 {
		return append(ret, ValidationError{Message: "definition has no nodes"})
	}

	nodeIDs := make(map[string]struct{}, len(def.Nodes))
	startCount, endCount := 0, 0
	for _, node := range def.Nodes {
		if node.ID == "" {
			ret = append(ret, ValidationError{Message: fmt.Sprintf("node %q has an empty id", node.Name)})
			continue
		}
		if _, ok := nodeIDs[node.ID]; ok {
			ret = append(ret, ValidationError{NodeID: node.ID, Message: "duplicate node id"})
			continue
		}
		nodeIDs[node.ID] = struct{}{}
		switch node.Kind().(type) {
		case StartKind:
			startCount++
		case EndKind:
			endCount++
		case UnsupportedKind:
			ret = append(ret, ValidationError{NodeID: node.ID, Message: fmt.Sprintf("unknown node type %q", node.Type)})
		}
	}

	switch {
	case startCount == 0:
		ret = append(ret, ValidationError{Message: "missing start"})
	case startCount > 1:
		ret = append(ret, ValidationError{Message: "multiple starts"})
	}
	if endCount == 0 {
		ret = append(ret, ValidationError{Message: "missing end"})
	}

	outgoing := make(map[string]int, len(def.Nodes))
	for _, conn := range def.Connections {
		if _, ok := nodeIDs[conn.SourceNodeID]; !ok {
			ret = append(ret, ValidationError{
				Message: fmt.Sprintf("connection %q references unknown source node %q", conn.ID, conn.SourceNodeID),
			})
		}
		if _, ok := nodeIDs[conn.TargetNodeID]; !ok {
			ret = append(ret, ValidationError{
				Message: fmt.Sprintf("connection %q references unknown target node %q", conn.ID, conn.TargetNodeID),
			})
		}
		outgoing[conn.SourceNodeID]++
	}

	seen := make(map[string]struct{}, len(def.Nodes))
	for _, node := range def.Nodes {
		if node.ID == "" || node.Type == NodeTypeEnd {
			continue
		}
		if _, ok := seen[node.ID]; ok {
			continue
		}
		seen[node.ID] = struct{}{}
		if outgoing[node.ID] == 0 {
			ret = append(ret, ValidationError{
				NodeID:  node.ID,
				Message: fmt.Sprintf("node %q (%s) has no outgoing connection", node.Name, node.ID),
			})
		}
	}
	return ret
}

// checkDefinition 校验不通过的时候返回 *DefinitionInvalidError
func checkDefinition(def *WorkflowDefinition) error {
	validationErrors := Validate(def)
	if len(validationErrors) == 0 {
		return nil
	}
	return errors.WithStack(&DefinitionInvalidError{Errors: validationErrors})
}
