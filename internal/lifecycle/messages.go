package lifecycle

import (
	"job-lifecycle-service/internal/models"
)

// SystemMessage is the transcript text recorded when a job enters to.
func SystemMessage(to models.State, actor models.Role) string {
	switch to {
	case models.StateAccepted:
		return "Application accepted. The chat is now enabled!"
	case models.StateEnRoute:
		return "The worker is on the way to the job"
	case models.StateInProgress:
		return "The worker has arrived and started the job"
	case models.StateCompleted:
		return "The worker marked the job as completed, please confirm"
	case models.StateConfirmed:
		return "The employer confirmed the job as completed"
	case models.StateCancelled:
		return "The " + string(actor) + " cancelled the job"
	}
	return "The job moved to " + StatusLabel(to)
}

// StatusLabel is the human readable name of a state.
func StatusLabel(s models.State) string {
	switch s {
	case models.StateApplied:
		return "applied"
	case models.StateAccepted:
		return "accepted"
	case models.StateEnRoute:
		return "on the way"
	case models.StateInProgress:
		return "in progress"
	case models.StateCompleted:
		return "completed"
	case models.StateConfirmed:
		return "confirmed"
	case models.StateCancelled:
		return "cancelled"
	}
	return string(s)
}

func actionLabel(to models.State) string {
	switch to {
	case models.StateAccepted:
		return "accept an application"
	case models.StateEnRoute:
		return "report being on the way"
	case models.StateInProgress:
		return "start the job"
	case models.StateCompleted:
		return "mark the job as completed"
	case models.StateConfirmed:
		return "confirm completion"
	case models.StateCancelled:
		return "cancel the job"
	}
	return "move the job to " + StatusLabel(to)
}
