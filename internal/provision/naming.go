package provision

import "fmt"

// Labels put on every resource berth creates.
const (
	LabelProject = "berth.project"
	LabelService = "berth.service"
	LabelManaged = "berth.managed"
)

// NetworkName is the bridge network all of a project's services join.
//
//	NetworkName("ruma") // "berth-ruma"
func NetworkName(project string) string {
	return fmt.Sprintf("berth-%s", project)
}

// ContainerName is the container running service.
//
//	ContainerName("ruma", "postgres") // "berth-ruma-postgres"
func ContainerName(project, service string) string {
	return fmt.Sprintf("berth-%s-%s", project, service)
}

// VolumeName is the runtime name of a declared, non-external volume.
//
//	VolumeName("ruma", "pg") // "berth-ruma-pg"
func VolumeName(project, volume string) string {
	return fmt.Sprintf("berth-%s-%s", project, volume)
}

// ImageName is the tag given to a built image when the manifest names none.
func ImageName(project, service string) string {
	return fmt.Sprintf("berth-%s-%s", project, service)
}

// Labels returns the ownership labels for a project resource. service may be
// empty for resources shared by the whole project.
func Labels(project, service string) map[string]string {
	labels := map[string]string{
		LabelProject: project,
		LabelManaged: "true",
	}
	if service != "" {
		labels[LabelService] = service
	}
	return labels
}
