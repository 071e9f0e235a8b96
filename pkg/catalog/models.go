package catalog

import (
	"time"

	"gorm.io/datatypes"
)

type Patient struct {
	ID          uint            `json:"id" gorm:"primaryKey;column:id"`
	PatientID   string          `json:"patient_id" gorm:"column:patient_id;size:64;not null;index"`
	PatientName string          `json:"patient_name" gorm:"column:patient_name;size:255;not null"`
	BirthDate   *datatypes.Date `json:"birth_date,omitempty" gorm:"column:birth_date"`
	Gender      *string         `json:"gender,omitempty" gorm:"column:gender;size:16"`
	CreatedAt   time.Time       `json:"created_at" gorm:"column:created_at"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"column:updated_at"`

	Studies []Study `json:"studies,omitempty" gorm:"foreignKey:PatientID;references:ID;constraint:OnDelete:CASCADE"`
}

type Study struct {
	ID                     uint            `json:"id" gorm:"primaryKey;column:id"`
	StudyInstanceUID       string          `json:"study_instance_uid" gorm:"column:study_instance_uid;size:128;not null;uniqueIndex"`
	StudyDate              *datatypes.Date `json:"study_date,omitempty" gorm:"column:study_date"`
	StudyTime              *datatypes.Time `json:"study_time,omitempty" gorm:"column:study_time"`
	StudyDescription       *string         `json:"study_description,omitempty" gorm:"column:study_description;size:255"`
	AccessionNumber        *string         `json:"accession_number,omitempty" gorm:"column:accession_number;size:64"`
	ReferringPhysicianName *string         `json:"referring_physician_name,omitempty" gorm:"column:referring_physician_name;size:255"`
	PatientID              uint            `json:"patient_id" gorm:"column:patient_id;not null;index"`
	CreatedAt              time.Time       `json:"created_at" gorm:"column:created_at"`
	UpdatedAt              time.Time       `json:"updated_at" gorm:"column:updated_at"`

	Patient *Patient `json:"-" gorm:"foreignKey:PatientID;references:ID;constraint:OnDelete:CASCADE"`
	Series  []Series `json:"series,omitempty" gorm:"foreignKey:StudyID;references:ID;constraint:OnDelete:CASCADE"`
}

type Series struct {
	ID                uint      `json:"id" gorm:"primaryKey;column:id"`
	SeriesInstanceUID string    `json:"series_instance_uid" gorm:"column:series_instance_uid;size:128;not null;uniqueIndex"`
	Modality          *string   `json:"modality,omitempty" gorm:"column:modality;size:16"`
	SeriesNumber      *int      `json:"series_number,omitempty" gorm:"column:series_number"`
	SeriesDescription *string   `json:"series_description,omitempty" gorm:"column:series_description;size:255"`
	BodyPartExamined  *string   `json:"body_part_examined,omitempty" gorm:"column:body_part_examined;size:64"`
	ProtocolName      *string   `json:"protocol_name,omitempty" gorm:"column:protocol_name;size:255"`
	StudyID           uint      `json:"study_id" gorm:"column:study_id;not null;index"`
	CreatedAt         time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"column:updated_at"`

	Instances []Instance `json:"instances,omitempty" gorm:"foreignKey:SeriesID;references:ID;constraint:OnDelete:CASCADE"`
}

type Instance struct {
	ID                uint      `json:"id" gorm:"primaryKey;column:id"`
	SOPInstanceUID    string    `json:"sop_instance_uid" gorm:"column:sop_instance_uid;size:128;not null;uniqueIndex"`
	SOPClassUID       *string   `json:"sop_class_uid,omitempty" gorm:"column:sop_class_uid;size:128"`
	InstanceNumber    *int      `json:"instance_number,omitempty" gorm:"column:instance_number"`
	FilePath          string    `json:"file_path" gorm:"column:file_path;size:1024;not null"`
	FileSize          int64     `json:"file_size" gorm:"column:file_size"`
	TransferSyntaxUID *string   `json:"transfer_syntax_uid,omitempty" gorm:"column:transfer_syntax_uid;size:128"`
	Rows              *int      `json:"rows,omitempty" gorm:"column:rows"`
	Columns           *int      `json:"columns,omitempty" gorm:"column:columns"`
	BitsAllocated     *int      `json:"bits_allocated,omitempty" gorm:"column:bits_allocated"`
	SeriesID          uint      `json:"series_id" gorm:"column:series_id;not null;index"`
	CreatedAt         time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (Patient) TableName() string {
	return "patients"
}

func (Study) TableName() string {
	return "studies"
}

func (Series) TableName() string {
	return "series"
}

func (Instance) TableName() string {
	return "instances"
}
