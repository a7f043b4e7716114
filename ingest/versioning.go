package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/lookatitude/agentgraph/model"
	"github.com/lookatitude/agentgraph/storage"
	"github.com/lookatitude/agentgraph/uri"
)

// processToolCall runs the resource-versioning procedure for one tool call
// inside an assistant ingestion step. It returns no error and no
// mutation when the tool doesn't address a resource or its result hasn't
// arrived in scratch yet.
func (e *Engine) processToolCall(ctx context.Context, agentTextID model.ID, conversationID string, call model.ToolCall, scratch map[string]string) (map[string]model.ID, error) {
	resourceURI, ok, err := e.extractor.Extract(ctx, call.Name, call.Args)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	content, ok := scratch[call.ID]
	if !ok {
		return nil, nil
	}
	delete(scratch, call.ID)

	canonURI, err := uri.Canonicalize(resourceURI, e.uriRoot)
	if err != nil {
		return nil, storage.WrapStoreError(err, "ingest.processToolCall.canonicalize", storage.ErrCodeStorageFailed)
	}
	contentHash := hashContent(content)
	toolName := normalizeToolName(call.Name)

	existing, err := e.graph.GetResourceByURI(ctx, canonURI)
	if err != nil {
		return nil, storage.WrapStoreError(err, "ingest.processToolCall.get_resource", storage.ErrCodeStorageFailed)
	}

	result := make(map[string]model.ID, 4)
	var versionID model.ID

	switch {
	case existing == nil:
		resourceNode, err := e.graph.CreateNode(ctx, storage.Node{
			Kind: storage.NodeKindResource,
			Resource: &model.Resource{
				ID:                 model.NewID(),
				URI:                canonURI,
				CurrentContentHash: contentHash,
				CreatedAt:          now(),
				LastAccessedAt:     now(),
			},
		})
		if err != nil {
			return nil, storage.WrapStoreError(err, "ingest.processToolCall.create_resource", storage.ErrCodeStorageFailed)
		}
		result[KeyResource] = resourceNode.Resource.ID

		version := &model.ResourceVersion{
			ID:                model.NewID(),
			URI:               canonURI,
			ContentHash:       contentHash,
			FirstConversation: conversationID,
			CreatedAt:         now(),
			LastAccessedAt:    now(),
		}
		versionNode, err := e.graph.CreateNode(ctx, storage.Node{Kind: storage.NodeKindResourceVersion, ResourceVersion: version})
		if err != nil {
			return nil, storage.WrapStoreError(err, "ingest.processToolCall.create_version", storage.ErrCodeStorageFailed)
		}
		versionID = versionNode.ResourceVersion.ID
		result[KeyResourceVer] = versionID

		versionOf := &model.VersionOfEdge{ID: model.NewID(), VersionID: versionID, ResourceID: resourceNode.Resource.ID, CreatedAt: now()}
		if err := e.graph.CreateEdge(ctx, storage.Edge{Kind: storage.EdgeKindVersionOf, VersionOfEdge: versionOf}); err != nil {
			return nil, storage.WrapStoreError(err, "ingest.processToolCall.create_version_of", storage.ErrCodeStorageFailed)
		}
		result[KeyVersionOfEdge] = versionOf.ID
		e.metrics.RecordVersionCreated(ctx)

	case existing.CurrentContentHash == contentHash:
		version, err := e.graph.GetResourceVersionByHash(ctx, canonURI, contentHash)
		if err != nil {
			return nil, storage.WrapStoreError(err, "ingest.processToolCall.get_version", storage.ErrCodeStorageFailed)
		}
		if version != nil {
			versionID = version.ID
		}
		result[KeyResource] = existing.ID

	default:
		version := &model.ResourceVersion{
			ID:                model.NewID(),
			URI:               canonURI,
			ContentHash:       contentHash,
			FirstConversation: conversationID,
			CreatedAt:         now(),
			LastAccessedAt:    now(),
		}
		versionNode, err := e.graph.CreateNode(ctx, storage.Node{Kind: storage.NodeKindResourceVersion, ResourceVersion: version})
		if err != nil {
			return nil, storage.WrapStoreError(err, "ingest.processToolCall.create_version", storage.ErrCodeStorageFailed)
		}
		versionID = versionNode.ResourceVersion.ID
		result[KeyResourceVer] = versionID
		result[KeyResource] = existing.ID

		if err := e.graph.UpdateResourceHash(ctx, canonURI, contentHash); err != nil {
			return nil, storage.WrapStoreError(err, "ingest.processToolCall.update_hash", storage.ErrCodeStorageFailed)
		}

		versionOf := &model.VersionOfEdge{ID: model.NewID(), VersionID: versionID, ResourceID: existing.ID, CreatedAt: now()}
		if err := e.graph.CreateEdge(ctx, storage.Edge{Kind: storage.EdgeKindVersionOf, VersionOfEdge: versionOf}); err != nil {
			return nil, storage.WrapStoreError(err, "ingest.processToolCall.create_version_of", storage.ErrCodeStorageFailed)
		}
		result[KeyVersionOfEdge] = versionOf.ID
		e.metrics.RecordVersionCreated(ctx)
	}

	toolUseEdge := &model.ToolUseEdge{
		ID:             model.NewID(),
		SourceID:       agentTextID,
		TargetID:       versionID,
		ToolName:       toolName,
		ConversationID: conversationID,
		CreatedAt:      now(),
		Properties:     call.Args,
	}
	if err := e.graph.CreateEdge(ctx, storage.Edge{Kind: storage.EdgeKindToolUse, ToolUseEdge: toolUseEdge}); err != nil {
		return nil, storage.WrapStoreError(err, "ingest.processToolCall.create_tool_use", storage.ErrCodeStorageFailed)
	}
	result[KeyToolUseEdge] = toolUseEdge.ID
	e.metrics.RecordToolUseEdge(ctx)

	return result, nil
}

// hashContent returns the SHA-256 hex digest of the UTF-8 bytes of content.
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// normalizeToolName uppercases name and replaces whitespace runs with a
// single underscore.
func normalizeToolName(name string) string {
	fields := strings.Fields(name)
	return strings.ToUpper(strings.Join(fields, "_"))
}
