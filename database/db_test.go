package database

import (
	"log"

	"github.com/DATA-DOG/go-sqlmock"
)

func newTestDataSource() (Datasource, sqlmock.Sqlmock, error) {
	db, mock, err := sqlmock.New()
	if err != nil {
		log.Printf("an error '%s' was not expected when opening a stub database Connection", err)
	}
	return Datasource{Conn: db}, mock, err
}
