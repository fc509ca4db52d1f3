// Package hitl suspends workflows until a human answers.
//
// A Request moves from pending to exactly one terminal status:
//
//	pending → approved | rejected | modified | selected   (SubmitResponse)
//	pending → cancelled                                   (CancelRequest, CancelWorkflowRequests, ctx)
//	pending → timeout                                     (request timeout)
//
// Which actions a response may carry depends on the checkpoint type:
//
//	approval  approve, reject, cancel
//	review    approve, reject, retry, cancel
//	edit      approve, edit, reject, cancel
//	choice    select, cancel
//	confirm   confirm, cancel
//
// Every transition is broadcast through the configured Broadcaster. Broadcast
// failures are logged and never affect the request.
package hitl
