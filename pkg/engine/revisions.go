package engine

import (
	"encoding/json"
	"fmt"

	"github.com/openfroyo/sitemodel/pkg/stores"
)

// saveContent persists the pending revisions of rc and its delegates,
// children before parents. Content without a pending revision is left alone,
// so unchanged content never gets a new revision.
func (ac *applyContext) saveContent(rc *resolvedContent) error {
	if rc.saved {
		return nil
	}
	rc.saved = true

	for _, child := range rc.children {
		if err := ac.saveContent(child); err != nil {
			return err
		}
	}

	if rc.pending == nil {
		return nil
	}
	return ac.createRevision(rc)
}

func (ac *applyContext) createRevision(rc *resolvedContent) error {
	name := rc.entity.Name
	entity := "content:" + name

	if rc.pending.ID != 0 {
		return NewConsistencyViolationError(
			fmt.Sprintf("pending revision of %s already has id %d", name, rc.pending.ID), nil).
			WithCode(ErrCodeRevisionNotNew).
			WithEntity(entity)
	}

	data, err := json.Marshal(rc.pending.Data)
	if err != nil {
		return NewInvalidDeclarationError("content data cannot be encoded", err).
			WithCode(ErrCodeContentInstance).
			WithEntity(entity)
	}

	rev := &stores.Revision{
		ContentID: rc.entity.ID,
		Locale:    rc.pending.Locale,
		Data:      string(data),
		State:     ac.revisionState(),
		Author:    ac.actor,
	}
	updated, err := ac.store.CreateRevision(ac.ctx, rev)
	if err != nil {
		return ac.storeErr("failed to create revision", err, entity)
	}

	rc.pending.ID = rev.ID
	rc.entity = updated
	ac.record(EntityContent, name, OperationRevise, fmt.Sprintf("revision %d (%s)", rev.Number, rev.State))

	if !ac.result.DryRun {
		ac.tel.Metrics.RecordRevision(ac.decl.ID, rc.entity.Kind)
		_ = ac.tel.Events.PublishRevisionCreated(ac.result.RunID, ac.decl.ID, name, rev.Number, rev.State)
	}
	return nil
}
