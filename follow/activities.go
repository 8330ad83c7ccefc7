package follow

import (
	"time"

	"github.com/google/uuid"

	as "github.com/mypub/mypub/activitystreams"
	"github.com/mypub/mypub/types"
)

// FollowID returns the id of the Follow activity follower sends to target.
// It is derived from both parties so that repeating a follow reuses it.
func FollowID(follower, target types.User) string {
	return follower.URL + "/" + target.Handle + "@" + target.Domain + "/follow"
}

// UndoID returns the id of the Undo of the activity with the given id.
func UndoID(activityID string) string {
	return activityID + "/undo"
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func newActivity(typ, id string, actor types.User, object as.Value, to string) *as.Activity {
	activity := &as.Activity{}
	activity.Context = as.ContextURL
	activity.ID = id
	activity.Type = typ
	activity.Published = now()
	activity.Actor = as.Ref(actor.URL)
	activity.Object = as.One(object)
	activity.To = as.Ref(to)
	return activity
}

func followActivity(id string, follower, target types.User) *as.Activity {
	return newActivity("Follow", id, follower, as.URL(target.URL), target.URL)
}

// embedded strips the json-ld context of an activity nested in another.
func embedded(activity *as.Activity) *as.Activity {
	inner := *activity
	inner.Context = nil
	return &inner
}

func undoActivity(follow *as.Activity, follower, target types.User) *as.Activity {
	return newActivity("Undo", UndoID(follow.ID), follower, embedded(follow), target.URL)
}

func acceptActivity(follow *as.Activity, followee, follower types.User) *as.Activity {
	return newActivity("Accept", followee.URL+"#accepts/follows/"+uuid.NewString(), followee, embedded(follow), follower.URL)
}

func rejectActivity(follow *as.Activity, followee, follower types.User) *as.Activity {
	return newActivity("Reject", followee.URL+"#rejects/follows/"+uuid.NewString(), followee, embedded(follow), follower.URL)
}
